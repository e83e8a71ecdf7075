package notifications

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagwatch_notification_failures_total",
		Help: "The total number of notifications that could not be delivered",
	})
)
