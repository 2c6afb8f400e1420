package directive

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PlansTotal counts Plan calls.
	// Labels: result (planned, no_tool)
	PlansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsloop",
			Subsystem: "directive",
			Name:      "plans_total",
			Help:      "Total number of directive plans",
		},
		[]string{"result"},
	)

	// CritiqueRejections counts plans rejected by Critique.
	CritiqueRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "opsloop",
			Subsystem: "directive",
			Name:      "critique_rejections_total",
			Help:      "Total number of plans rejected by critique",
		},
	)

	// ExecutionsTotal counts Execute calls.
	// Labels: mode (dry_run, live), result (success, failure, script_not_found)
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsloop",
			Subsystem: "directive",
			Name:      "executions_total",
			Help:      "Total number of directive executions",
		},
		[]string{"mode", "result"},
	)

	// ExecutionDuration tracks live script run time.
	ExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "opsloop",
			Subsystem: "directive",
			Name:      "execution_duration_seconds",
			Help:      "Duration of live script executions in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 600},
		},
	)
)
