package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobRuns counts job executions.
	// Labels: job, result (success, error)
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsloop",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Total number of scheduled job runs",
		},
		[]string{"job", "result"},
	)

	// JobDuration tracks job run time.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "opsloop",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Scheduled job duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"job"},
	)
)
