package knowledge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InjectionRuns counts ProcessApproved runs.
	// Labels: result (success, error)
	InjectionRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsloop",
			Subsystem: "knowledge",
			Name:      "injection_runs_total",
			Help:      "Total number of approved-fact injection runs",
		},
		[]string{"result"},
	)

	// InjectionDuration tracks how long injection runs take.
	InjectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "opsloop",
			Subsystem: "knowledge",
			Name:      "injection_duration_seconds",
			Help:      "Duration of approved-fact injection runs in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// ChunksInjected counts chunks added to the knowledge base.
	ChunksInjected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "opsloop",
			Subsystem: "knowledge",
			Name:      "chunks_injected_total",
			Help:      "Total number of learned chunks added to the knowledge base",
		},
	)

	// SnapshotsCreated counts snapshots by reason.
	SnapshotsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsloop",
			Subsystem: "knowledge",
			Name:      "snapshots_created_total",
			Help:      "Total number of knowledge base snapshots",
		},
		[]string{"reason"},
	)

	// Rollbacks counts completed rollbacks.
	Rollbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "opsloop",
			Subsystem: "knowledge",
			Name:      "rollbacks_total",
			Help:      "Total number of knowledge base rollbacks",
		},
	)

	// KnowledgeChunks reports the chunk count after the last mutation.
	KnowledgeChunks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "opsloop",
			Subsystem: "knowledge",
			Name:      "chunks",
			Help:      "Number of chunks in the knowledge base",
		},
	)
)
