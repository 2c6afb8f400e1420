package secrets

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Redactions counts redacted spans.
// Labels: rule
var Redactions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "opsloop",
		Subsystem: "secrets",
		Name:      "redactions_total",
		Help:      "Total number of credential spans redacted",
	},
	[]string{"rule"},
)
