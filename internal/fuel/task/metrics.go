package task

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "route_task_submissions_total",
		Help: "Route submissions grouped by how they were answered.",
	}, []string{"outcome"})

	executions = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "route_task_duration_seconds",
		Help:    "Time spent executing route tasks grouped by final state.",
		Buckets: prometheus.DefBuckets,
	}, []string{"state"})

	cacheWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "route_result_cache_write_failures_total",
		Help: "Route results that could not be written to the cache store.",
	})
)
