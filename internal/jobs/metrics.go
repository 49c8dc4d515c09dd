package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_jobs_submitted_total",
			Help: "Total jobs submitted, by type.",
		},
		[]string{"type"},
	)

	jobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_jobs_finished_total",
			Help: "Total jobs reaching a terminal state, by type and status.",
		},
		[]string{"type", "status"},
	)

	activeJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatchd_jobs_active",
			Help: "Jobs currently executing on a worker.",
		},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatchd_job_duration_seconds",
			Help:    "Handler execution time, by job type.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		},
		[]string{"type"},
	)
)
