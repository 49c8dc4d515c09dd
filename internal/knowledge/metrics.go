// Package knowledge provides Prometheus metrics for store operations.
package knowledge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetrievalDuration tracks how long similarity searches take.
	RetrievalDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dispatchd",
			Subsystem: "knowledge",
			Name:      "retrieval_duration_seconds",
			Help:      "Duration of knowledge retrieval operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// RetrievalResults tracks how many results retrievals return.
	RetrievalResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dispatchd",
			Subsystem: "knowledge",
			Name:      "retrieval_results",
			Help:      "Number of results returned per retrieval",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	// RetrievalsTotal counts retrieval operations.
	// Labels: result (success, error)
	RetrievalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatchd",
			Subsystem: "knowledge",
			Name:      "retrievals_total",
			Help:      "Total number of knowledge retrieval operations",
		},
		[]string{"result"},
	)

	// StoresTotal counts document store operations.
	// Labels: result (success, error)
	StoresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatchd",
			Subsystem: "knowledge",
			Name:      "stores_total",
			Help:      "Total number of knowledge store operations",
		},
		[]string{"result"},
	)
)

func observeRetrieve(d time.Duration, results int, err error) {
	RetrievalDuration.Observe(d.Seconds())
	if err != nil {
		RetrievalsTotal.WithLabelValues("error").Inc()
		return
	}
	RetrievalsTotal.WithLabelValues("success").Inc()
	RetrievalResults.Observe(float64(results))
}

func observeStore(d time.Duration, err error) {
	if err != nil {
		StoresTotal.WithLabelValues("error").Inc()
		return
	}
	StoresTotal.WithLabelValues("success").Inc()
}
