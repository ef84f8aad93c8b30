package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventdash_query_duration_seconds",
			Help:    "Duration of event store queries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"op"},
	)

	QueryErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventdash_query_errors_total",
			Help: "Total number of event store query failures",
		},
		[]string{"op"},
	)

	RefdataCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventdash_refdata_cache_total",
			Help: "Reference data cache lookups by result",
		},
		[]string{"kind", "result"},
	)
)
