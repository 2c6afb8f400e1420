package validation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FactsSubmitted counts facts offered to Submit.
	// Labels: result (queued, below_threshold, duplicate)
	FactsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsloop",
			Subsystem: "queue",
			Name:      "facts_submitted_total",
			Help:      "Total number of candidate facts offered to the validation queue",
		},
		[]string{"result"},
	)

	// ReviewsTotal counts status transitions by new status.
	ReviewsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsloop",
			Subsystem: "queue",
			Name:      "reviews_total",
			Help:      "Total number of review status transitions",
		},
		[]string{"status"},
	)

	// EntriesArchived counts entries moved to archive files.
	EntriesArchived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "opsloop",
			Subsystem: "queue",
			Name:      "entries_archived_total",
			Help:      "Total number of queue entries moved to archive files",
		},
	)

	// CorruptLines counts unparsable queue lines skipped while reading.
	CorruptLines = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "opsloop",
			Subsystem: "queue",
			Name:      "corrupt_lines_total",
			Help:      "Total number of unparsable queue lines skipped",
		},
	)

	// LiveEntries reports live entries by status after the last rewrite.
	LiveEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "opsloop",
			Subsystem: "queue",
			Name:      "live_entries",
			Help:      "Live queue entries by status",
		},
		[]string{"status"},
	)
)

func updateLiveGauge(entries []Entry) {
	counts := make(map[string]int)
	for _, e := range entries {
		counts[e.Status]++
	}
	LiveEntries.Reset()
	for status, n := range counts {
		LiveEntries.WithLabelValues(status).Set(float64(n))
	}
}
