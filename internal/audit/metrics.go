package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var recordsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dispatchd_audit_records_total",
		Help: "Total audit records written, by execution status.",
	},
	[]string{"status"},
)
