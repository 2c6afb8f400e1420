package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsloop/internal/autonomy"
	"github.com/fyrsmithlabs/opsloop/internal/config"
	"github.com/fyrsmithlabs/opsloop/internal/directive"
	"github.com/fyrsmithlabs/opsloop/internal/extraction"
	"github.com/fyrsmithlabs/opsloop/internal/knowledge"
	"github.com/fyrsmithlabs/opsloop/internal/logging"
	"github.com/fyrsmithlabs/opsloop/internal/secrets"
	"github.com/fyrsmithlabs/opsloop/internal/selfheal"
	"github.com/fyrsmithlabs/opsloop/internal/session"
	"github.com/fyrsmithlabs/opsloop/internal/validation"
)

// Store directories under the data directory.
const (
	SessionsDir  = "sessions"
	QueueDir     = "queue"
	KnowledgeDir = "knowledge"
	RulesDir     = "rules"
	ArtifactsDir = "artifacts"
)

// Registry provides access to all opsloop services.
type Registry struct {
	cfg    *config.Config
	logger *zap.Logger

	redactor   *secrets.Redactor
	sessions   *session.Store
	extractor  *extraction.Extractor
	queue      *validation.Queue
	injector   *knowledge.Injector
	rules      *selfheal.Engine
	dispatcher *directive.Dispatcher
	metrics    *autonomy.Evaluator
	leads      *autonomy.SQLiteSource
}

// New creates every service and initializes its directory.
func New(cfg *config.Config, logger *zap.Logger) (*Registry, error) {
	r, err := Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := r.Init(); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

// Open creates every service without touching the data directory. Reads
// treat a missing store as empty; call Init before writing.
func Open(cfg *config.Config, logger *zap.Logger) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{cfg: cfg, logger: logger}

	extractor, err := extraction.NewExtractor(nil)
	if err != nil {
		return nil, fmt.Errorf("building extractor: %w", err)
	}
	r.extractor = extractor

	redaction := cfg.Redaction
	redaction.AllowlistFile = cfg.Path(redaction.AllowlistFile)
	r.redactor, err = secrets.New(redaction)
	if err != nil {
		return nil, fmt.Errorf("building redactor: %w", err)
	}

	r.sessions = session.NewStore(cfg.Path(SessionsDir), logger.Named("session"), session.WithRedactor(r.redactor))
	r.queue = validation.NewQueue(cfg.Path(QueueDir), validation.Config{
		MinConfidence:       cfg.Queue.MinConfidence,
		MaxLive:             cfg.Queue.MaxLive,
		MaxPending:          cfg.Queue.MaxPending,
		InjectMinConfidence: cfg.Knowledge.MinConfidence,
	}, logger.Named("queue"))
	r.injector = knowledge.NewInjector(cfg.Path(KnowledgeDir), r.queue, knowledge.Config{
		MinConfidence:   cfg.Knowledge.MinConfidence,
		MaxChunksPerRun: cfg.Knowledge.MaxChunksPerRun,
		MaxVersions:     cfg.Knowledge.MaxVersions,
		TenantID:        cfg.Knowledge.TenantID,
	}, logger.Named("knowledge"))
	r.rules = selfheal.NewEngine(cfg.Path(RulesDir), selfheal.Config{
		MinSample:      cfg.Rules.MinSample,
		HighSample:     cfg.Rules.HighSample,
		TTL:            cfg.Rules.TTL.Duration(),
		RecentWindow:   cfg.Rules.RecentWindow.Duration(),
		BaselineWindow: cfg.Rules.BaselineWindow.Duration(),
	}, logger.Named("selfheal"))

	var tools []directive.Tool
	if cfg.Dispatcher.ToolsFile != "" {
		tools, err = directive.LoadTools(cfg.Dispatcher.ToolsFile)
		if err != nil {
			return nil, err
		}
	}
	r.dispatcher = directive.NewDispatcher(directive.Config{
		Tools:         tools,
		ScriptDirs:    cfg.Dispatcher.ScriptDirs,
		ArtifactsDir:  cfg.Path(ArtifactsDir),
		Timeout:       cfg.Dispatcher.Timeout.Duration(),
		RatePerMinute: cfg.Dispatcher.RatePerMinute,
		Sessions:      r.sessions,
		Events:        r.rules,
		Redactor:      r.redactor,
	}, logger.Named("directive"))

	sources := []autonomy.MetricSource{r.internalMetrics()}
	for _, f := range cfg.Autonomy.StateFiles {
		sources = append(sources, autonomy.JSONFileSource{Path: cfg.Path(f)})
	}
	if cfg.Autonomy.LeadDB != "" {
		r.leads = autonomy.NewSQLiteSource(cfg.Path(cfg.Autonomy.LeadDB), cfg.Autonomy.LeadQueries)
		sources = append(sources, r.leads)
	}
	r.metrics = autonomy.NewEvaluator(logger.Named("metrics"), sources...)

	return r, nil
}

// Init creates the directory of every store.
func (r *Registry) Init() error {
	for name, init := range map[string]func() error{
		"session":   r.sessions.Init,
		"queue":     r.queue.Init,
		"knowledge": r.injector.Init,
		"selfheal":  r.rules.Init,
	} {
		if err := init(); err != nil {
			return fmt.Errorf("initializing %s store: %w", name, err)
		}
	}
	return nil
}

// Config returns the configuration the registry was built from.
func (r *Registry) Config() *config.Config { return r.cfg }

func (r *Registry) Redactor() *secrets.Redactor       { return r.redactor }
func (r *Registry) Sessions() *session.Store          { return r.sessions }
func (r *Registry) Extractor() *extraction.Extractor  { return r.extractor }
func (r *Registry) Queue() *validation.Queue          { return r.queue }
func (r *Registry) Knowledge() *knowledge.Injector    { return r.injector }
func (r *Registry) Rules() *selfheal.Engine           { return r.rules }
func (r *Registry) Dispatcher() *directive.Dispatcher { return r.dispatcher }
func (r *Registry) Metrics() *autonomy.Evaluator      { return r.metrics }

// Loop builds the autonomy loop. A zero interval uses the configured one.
func (r *Registry) Loop(live bool, interval time.Duration) *autonomy.Loop {
	if interval <= 0 {
		interval = r.cfg.Autonomy.Interval.Duration()
	}
	return autonomy.NewLoop(autonomy.Config{
		Interval:  interval,
		GoalsFile: r.cfg.Path(r.cfg.Autonomy.GoalsFile),
		Live:      live || r.cfg.Autonomy.Live,
		Watch:     true,
	}, r.dispatcher, r.metrics, r.logger.Named("autonomy"))
}

// SessionResult summarizes one ProcessSession run.
type SessionResult struct {
	SessionID string `json:"sessionId"`
	Extracted int    `json:"extracted"`
	Queued    int    `json:"queued"`
}

// ProcessSession extracts candidate facts from a session and submits
// them to the validation queue.
func (r *Registry) ProcessSession(ctx context.Context, id string) (*SessionResult, error) {
	if id == "" {
		return nil, errors.New("session id is required")
	}
	ctx = logging.WithSessionID(ctx, id)
	facts := r.extractor.ExtractSession(ctx, r.sessions, id)
	queued, err := r.queue.Submit(ctx, facts)
	if err != nil {
		return nil, fmt.Errorf("queueing facts of session %s: %w", id, err)
	}
	logging.Wrap(r.logger).Info(ctx, "session processed",
		zap.Int("extracted", len(facts)),
		zap.Int("queued", queued))
	return &SessionResult{SessionID: id, Extracted: len(facts), Queued: queued}, nil
}

// Close releases open handles.
func (r *Registry) Close() error {
	if r.leads != nil {
		return r.leads.Close()
	}
	return nil
}

// internalMetrics exposes store counters to goals.
func (r *Registry) internalMetrics() autonomy.FuncSource {
	return autonomy.FuncSource{
		"queue.total": func(ctx context.Context) (float64, error) {
			st, err := r.queue.Stats(ctx)
			if err != nil {
				return 0, err
			}
			return float64(st.Total), nil
		},
		"queue.pending": func(ctx context.Context) (float64, error) {
			st, err := r.queue.Stats(ctx)
			if err != nil {
				return 0, err
			}
			return float64(st.ByStatus[extraction.StatusPending]), nil
		},
		"kb.chunks": func(ctx context.Context) (float64, error) {
			st, err := r.injector.Stats(ctx)
			if err != nil {
				return 0, err
			}
			return float64(st.TotalChunks), nil
		},
		"kb.learned": func(ctx context.Context) (float64, error) {
			st, err := r.injector.Stats(ctx)
			if err != nil {
				return 0, err
			}
			return float64(st.LearnedChunks), nil
		},
		"rules.active": func(ctx context.Context) (float64, error) {
			rules, err := r.rules.Rules(ctx)
			if err != nil {
				return 0, err
			}
			return float64(len(rules)), nil
		},
		"sessions.total": func(ctx context.Context) (float64, error) {
			ids, err := r.sessions.List(ctx)
			if err != nil {
				return 0, err
			}
			return float64(len(ids)), nil
		},
	}
}

// Health statuses.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Health reports whether every store can be read, with summary counts.
type Health struct {
	Status     string            `json:"status"`
	DataDir    string            `json:"dataDir"`
	Components map[string]string `json:"components"`
	Counts     HealthCounts      `json:"counts"`
}

// HealthCounts summarizes store sizes. Counts of unreadable stores are
// zero.
type HealthCounts struct {
	Sessions    int `json:"sessions"`
	Pending     int `json:"pending"`
	KBChunks    int `json:"kbChunks"`
	ActiveRules int `json:"activeRules"`
}

// Health probes each store. It only reads, so it is safe on a data
// directory that was never initialized.
func (r *Registry) Health(ctx context.Context) *Health {
	h := &Health{Status: StatusHealthy, DataDir: r.cfg.Storage.DataDir, Components: make(map[string]string)}
	check := func(name string, err error) {
		if err != nil {
			h.Status = StatusDegraded
			h.Components[name] = err.Error()
			return
		}
		h.Components[name] = "ok"
	}

	ids, err := r.sessions.List(ctx)
	check("sessions", err)
	h.Counts.Sessions = len(ids)

	qs, err := r.queue.Stats(ctx)
	check("queue", err)
	if err == nil {
		h.Counts.Pending = qs.ByStatus[extraction.StatusPending]
	}

	ks, err := r.injector.Stats(ctx)
	check("knowledge", err)
	if err == nil {
		h.Counts.KBChunks = ks.TotalChunks
	}

	rules, err := r.rules.Rules(ctx)
	check("rules", err)
	h.Counts.ActiveRules = len(rules)
	return h
}

// Stats aggregates store statistics.
type Stats struct {
	Sessions    int                `json:"sessions"`
	Queue       *validation.Stats  `json:"queue"`
	Knowledge   *knowledge.Stats   `json:"knowledge"`
	ActiveRules int                `json:"activeRules"`
	Analysis    *selfheal.Analysis `json:"lastAnalysis,omitempty"`
}

// Stats collects statistics from every store.
func (r *Registry) Stats(ctx context.Context) (*Stats, error) {
	ids, err := r.sessions.List(ctx)
	if err != nil {
		return nil, err
	}
	qs, err := r.queue.Stats(ctx)
	if err != nil {
		return nil, err
	}
	ks, err := r.injector.Stats(ctx)
	if err != nil {
		return nil, err
	}
	rules, err := r.rules.Rules(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{Sessions: len(ids), Queue: qs, Knowledge: ks, ActiveRules: len(rules)}
	if a, err := r.rules.LastAnalysis(); err == nil {
		st.Analysis = a
	}
	return st, nil
}
