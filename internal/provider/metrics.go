package provider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatchd_provider_dispatch_duration_seconds",
			Help:    "Time spent in backend completion calls.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"provider"},
	)

	dispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_provider_dispatches_total",
			Help: "Total backend dispatches, by provider and result.",
		},
		[]string{"provider", "result"},
	)
)
