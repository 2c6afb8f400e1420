package selfheal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsRecorded counts events appended through Record.
	EventsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "opsloop",
			Subsystem: "selfheal",
			Name:      "events_recorded_total",
			Help:      "Total number of operational events recorded",
		},
	)

	// AnalysisRuns counts Analyze runs.
	// Labels: result (success, error)
	AnalysisRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsloop",
			Subsystem: "selfheal",
			Name:      "analysis_runs_total",
			Help:      "Total number of rule analysis runs",
		},
		[]string{"result"},
	)

	// SectorFailures reports failures inside the baseline window per sector.
	SectorFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "opsloop",
			Subsystem: "selfheal",
			Name:      "sector_failures",
			Help:      "Failures per sector over the baseline window at the last analysis",
		},
		[]string{"sector"},
	)

	// ActiveRules reports the number of live rules.
	ActiveRules = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "opsloop",
			Subsystem: "selfheal",
			Name:      "active_rules",
			Help:      "Number of non-expired self-heal rules",
		},
	)
)
