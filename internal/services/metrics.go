package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagwatch_scans_total",
		Help: "The total number of full workload scans",
	})
	workloadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagwatch_workload_failures_total",
		Help: "The total number of per-workload scan failures by error kind",
	}, []string{"kind"})
	updatesAvailable = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagwatch_updates_available_total",
		Help: "The total number of scanned workloads with a newer tag",
	})
	remediations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagwatch_remediations_total",
		Help: "The total number of remediation attempts by result",
	}, []string{"result"})
)
