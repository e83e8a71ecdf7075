package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registryRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagwatch_registry_requests_total",
		Help: "The total number of tag listing requests sent to registries",
	})
)
