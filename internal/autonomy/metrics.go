package autonomy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TicksTotal counts loop ticks.
	TicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "opsloop",
			Subsystem: "autonomy",
			Name:      "ticks_total",
			Help:      "Total number of autonomy loop ticks",
		},
	)

	// LastTick records the time of the last tick.
	LastTick = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "opsloop",
			Subsystem: "autonomy",
			Name:      "last_tick_timestamp_seconds",
			Help:      "Unix time of the last autonomy loop tick",
		},
	)

	// GoalGaps counts detected gaps per goal.
	GoalGaps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsloop",
			Subsystem: "autonomy",
			Name:      "goal_gaps_total",
			Help:      "Total number of goal gaps detected",
		},
		[]string{"goal"},
	)

	// GoalActions counts per-goal outcomes.
	// Labels: action (none, disabled, rejected, executed, failed)
	GoalActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsloop",
			Subsystem: "autonomy",
			Name:      "goal_actions_total",
			Help:      "Total number of goal evaluations by outcome",
		},
		[]string{"action"},
	)
)
