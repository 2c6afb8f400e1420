// Package knowledge commits reviewed facts to the versioned knowledge
// base.
//
// Every mutation is preceded by a full snapshot of the current chunk
// list, and every injection or rollback is recorded in an append-only
// audit log. Only approved facts at or above the confidence floor are
// ever injected, and each fact at most once.
package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsloop/internal/extraction"
	"github.com/fyrsmithlabs/opsloop/internal/fsutil"
	"github.com/fyrsmithlabs/opsloop/internal/validation"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/opsloop/internal/knowledge"

	baseFileName  = "kb.json"
	versionsDir   = "versions"
	auditFileName = "audit.jsonl"
)

// FactSource is the subset of the validation queue the injector needs.
type FactSource interface {
	List(ctx context.Context, status string) ([]validation.Entry, error)
	MarkInjected(ctx context.Context, ids []string, at time.Time) (int, error)
}

// Config holds injection limits.
type Config struct {
	MinConfidence   float64
	MaxChunksPerRun int
	MaxVersions     int
	TenantID        string
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{MinConfidence: 0.6, MaxChunksPerRun: 50, MaxVersions: 20, TenantID: "default"}
}

// ProcessResult summarizes one ProcessApproved run.
type ProcessResult struct {
	Processed      int      `json:"processed"`
	Skipped        int      `json:"skipped"`
	BelowThreshold int      `json:"belowThreshold"`
	Deferred       int      `json:"deferred"`
	TotalChunks    int      `json:"totalChunks"`
	InjectedIDs    []string `json:"injectedIds,omitempty"`
	Backup         string   `json:"backup,omitempty"`
}

// RollbackResult summarizes a rollback.
type RollbackResult struct {
	Restored          int       `json:"restored"`
	SnapshotTimestamp time.Time `json:"snapshotTimestamp"`
	Backup            string    `json:"backup"`
}

// Stats describes the current knowledge base.
type Stats struct {
	TotalChunks   int     `json:"totalChunks"`
	LearnedChunks int     `json:"learnedChunks"`
	LearnedRatio  float64 `json:"learnedRatio"`
	Versions      int     `json:"versions"`
}

// Injector owns the knowledge base directory.
type Injector struct {
	dir    string
	facts  FactSource
	cfg    Config
	lock   *fsutil.Lock
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time

	// persist writes the live base; replaced in tests.
	persist func(path string, v any) error
}

// NewInjector creates an injector rooted at dir reading facts from src.
func NewInjector(dir string, src FactSource, cfg Config, logger *zap.Logger) *Injector {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.MaxChunksPerRun <= 0 {
		cfg.MaxChunksPerRun = def.MaxChunksPerRun
	}
	if cfg.MaxVersions <= 0 {
		cfg.MaxVersions = def.MaxVersions
	}
	if cfg.TenantID == "" {
		cfg.TenantID = def.TenantID
	}
	return &Injector{
		dir:     dir,
		facts:   src,
		cfg:     cfg,
		lock:    fsutil.NewLock(filepath.Join(dir, baseFileName)),
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		now:     time.Now,
		persist: fsutil.WriteJSONAtomic,
	}
}

// Init creates the knowledge base and versions directories.
func (inj *Injector) Init() error {
	if err := os.MkdirAll(inj.versionsDir(), 0o755); err != nil {
		return fmt.Errorf("creating knowledge directory %s: %w", inj.dir, err)
	}
	return nil
}

// BasePath returns the live knowledge base file.
func (inj *Injector) BasePath() string {
	return filepath.Join(inj.dir, baseFileName)
}

// AuditPath returns the audit log file.
func (inj *Injector) AuditPath() string {
	return filepath.Join(inj.dir, auditFileName)
}

func (inj *Injector) versionsDir() string {
	return filepath.Join(inj.dir, versionsDir)
}

// Load returns the current knowledge base.
func (inj *Injector) Load(ctx context.Context) (*Base, error) {
	return loadBase(inj.BasePath())
}

// ProcessApproved injects approved facts into the knowledge base.
//
// The run snapshots the base, maps facts to chunks, drops chunks whose
// fact is already present, persists the merged base, then marks the
// facts injected and appends an audit record. A persist failure returns
// before any fact is marked.
func (inj *Injector) ProcessApproved(ctx context.Context) (*ProcessResult, error) {
	ctx, span := inj.tracer.Start(ctx, "knowledge.process_approved")
	defer span.End()

	start := time.Now()
	res, err := inj.processApproved(ctx)
	InjectionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		InjectionRuns.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	InjectionRuns.WithLabelValues("success").Inc()
	span.SetAttributes(
		attribute.Int("processed", res.Processed),
		attribute.Int("skipped", res.Skipped),
		attribute.Int("total_chunks", res.TotalChunks),
	)
	return res, nil
}

func (inj *Injector) processApproved(ctx context.Context) (*ProcessResult, error) {
	approved, err := inj.facts.List(ctx, extraction.StatusApproved)
	if err != nil {
		return nil, fmt.Errorf("listing approved facts: %w", err)
	}

	res := &ProcessResult{}
	var selected []validation.Entry
	for _, e := range approved {
		if e.InjectedToKB {
			continue
		}
		if e.Confidence < inj.cfg.MinConfidence {
			res.BelowThreshold++
			continue
		}
		if len(selected) == inj.cfg.MaxChunksPerRun {
			res.Deferred++
			continue
		}
		selected = append(selected, e)
	}

	if len(selected) == 0 {
		base, err := loadBase(inj.BasePath())
		if err != nil {
			return nil, err
		}
		res.TotalChunks = len(base.Chunks)
		inj.logger.Debug("no approved facts to inject", zap.Int("below_threshold", res.BelowThreshold))
		return res, nil
	}

	var markIDs []string
	err = inj.lock.Do(func() error {
		base, err := loadBase(inj.BasePath())
		if err != nil {
			return err
		}

		backup, err := inj.writeSnapshot(base.Chunks, ReasonPreEnrichment)
		if err != nil {
			return err
		}
		res.Backup = filepath.Base(backup)

		now := inj.now()
		present := make(map[string]bool, len(base.Chunks))
		for _, c := range base.Chunks {
			if id := c.OriginalID(); id != "" {
				present[id] = true
			}
		}

		var fresh []Chunk
		for _, e := range selected {
			chunk := ChunkFromEntry(e, inj.cfg.TenantID, now)
			markIDs = append(markIDs, e.ID)
			if present[chunk.OriginalID()] {
				res.Skipped++
				continue
			}
			present[chunk.OriginalID()] = true
			fresh = append(fresh, chunk)
			res.InjectedIDs = append(res.InjectedIDs, e.ID)
		}

		if len(fresh) > 0 {
			base.Chunks = append(base.Chunks, fresh...)
			base.UpdatedAt = &now
			if err := inj.persist(inj.BasePath(), base); err != nil {
				return fmt.Errorf("persisting knowledge base: %w", err)
			}
		}
		res.Processed = len(fresh)
		res.TotalChunks = len(base.Chunks)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := inj.facts.MarkInjected(ctx, markIDs, inj.now()); err != nil {
		return nil, fmt.Errorf("marking facts injected: %w", err)
	}

	if err := inj.audit(AuditRecord{
		Action:      ActionInject,
		Processed:   res.Processed,
		Skipped:     res.Skipped,
		TotalChunks: res.TotalChunks,
		FactIDs:     res.InjectedIDs,
		Version:     res.Backup,
	}); err != nil {
		return nil, err
	}

	ChunksInjected.Add(float64(res.Processed))
	KnowledgeChunks.Set(float64(res.TotalChunks))
	inj.logger.Info("approved facts injected",
		zap.Int("processed", res.Processed),
		zap.Int("skipped", res.Skipped),
		zap.Int("deferred", res.Deferred),
		zap.Int("total_chunks", res.TotalChunks))
	return res, nil
}

// Rollback restores the chunk list of versionFile after backing up the
// current state.
func (inj *Injector) Rollback(ctx context.Context, versionFile string) (*RollbackResult, error) {
	ctx, span := inj.tracer.Start(ctx, "knowledge.rollback")
	defer span.End()
	span.SetAttributes(attribute.String("version", versionFile))

	res, err := inj.rollback(ctx, versionFile)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	Rollbacks.Inc()
	span.SetAttributes(attribute.Int("restored", res.Restored))
	return res, nil
}

func (inj *Injector) rollback(ctx context.Context, versionFile string) (*RollbackResult, error) {
	path, err := inj.resolveVersion(versionFile)
	if err != nil {
		return nil, err
	}
	snap, err := readSnapshot(path)
	if err != nil {
		return nil, err
	}

	res := &RollbackResult{Restored: len(snap.Chunks), SnapshotTimestamp: snap.Timestamp}
	err = inj.lock.Do(func() error {
		current, err := loadBase(inj.BasePath())
		if err != nil {
			return err
		}
		backup, err := inj.writeSnapshot(current.Chunks, ReasonPreRollback)
		if err != nil {
			return err
		}
		res.Backup = filepath.Base(backup)

		now := inj.now()
		restored := &Base{UpdatedAt: &now, Chunks: snap.Chunks}
		if err := inj.persist(inj.BasePath(), restored); err != nil {
			return fmt.Errorf("restoring knowledge base: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ts := snap.Timestamp
	if err := inj.audit(AuditRecord{
		Action:            ActionRollback,
		TotalChunks:       res.Restored,
		Restored:          res.Restored,
		Version:           filepath.Base(path),
		SnapshotTimestamp: &ts,
		Backup:            res.Backup,
	}); err != nil {
		return nil, err
	}

	KnowledgeChunks.Set(float64(res.Restored))
	inj.logger.Info("knowledge base rolled back",
		zap.String("version", filepath.Base(path)),
		zap.Int("restored", res.Restored),
		zap.Time("snapshot_timestamp", snap.Timestamp))
	return res, nil
}

// ListVersions returns snapshot descriptions, newest first. Unparsable
// snapshot files are omitted.
func (inj *Injector) ListVersions(ctx context.Context) ([]VersionInfo, error) {
	names, err := inj.versionFiles()
	if err != nil {
		return nil, err
	}

	out := make([]VersionInfo, 0, len(names))
	for _, name := range names {
		path := filepath.Join(inj.versionsDir(), name)
		snap, err := readSnapshot(path)
		if err != nil {
			inj.logger.Warn("skipping unreadable snapshot", zap.String("file", name), zap.Error(err))
			continue
		}
		out = append(out, VersionInfo{
			File:       name,
			Path:       path,
			Timestamp:  snap.Timestamp,
			Reason:     snap.Reason,
			ChunkCount: len(snap.Chunks),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return versionLess(out[j].File, out[i].File) })
	return out, nil
}

// Stats reports chunk and version counts.
func (inj *Injector) Stats(ctx context.Context) (*Stats, error) {
	base, err := loadBase(inj.BasePath())
	if err != nil {
		return nil, err
	}
	names, err := inj.versionFiles()
	if err != nil {
		return nil, err
	}

	st := &Stats{TotalChunks: len(base.Chunks), Versions: len(names)}
	for _, c := range base.Chunks {
		if c.IsLearned() {
			st.LearnedChunks++
		}
	}
	if st.TotalChunks > 0 {
		st.LearnedRatio = float64(st.LearnedChunks) / float64(st.TotalChunks)
	}
	return st, nil
}
