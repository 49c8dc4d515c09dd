package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_cache_hits_total",
			Help: "Total cache hits, by matching strategy.",
		},
		[]string{"strategy"},
	)

	missesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatchd_cache_misses_total",
			Help: "Total lookups that missed all strategies.",
		},
	)
)
