package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_executions_total",
			Help: "Total executions, by usage type and outcome.",
		},
		[]string{"usage_type", "outcome"},
	)

	executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatchd_execution_duration_seconds",
			Help:    "End-to-end pipeline latency for dispatched calls.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"usage_type"},
	)
)
