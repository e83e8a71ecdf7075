package history

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dbError = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagwatch_db_error_total",
		Help: "The total number of scan history DB errors",
	})
)
