package mcp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ToolInvocations counts tool calls by tool and result.
	ToolInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsloop",
			Subsystem: "mcp",
			Name:      "tool_invocations_total",
			Help:      "Total number of MCP tool invocations",
		},
		[]string{"tool", "result"},
	)

	// ToolDuration observes tool call latency.
	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "opsloop",
			Subsystem: "mcp",
			Name:      "tool_duration_seconds",
			Help:      "Duration of MCP tool invocations",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"tool"},
	)
)
