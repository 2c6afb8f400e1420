// Package selfheal turns operational failure events into time-decaying
// behavioral rules.
//
// Events are appended to a JSON-lines log. Analyze compares the recent
// window against the baseline per sector, scores confidence from sample
// size and merges one rule per sector into the rule file. Rules expire
// after a fixed TTL unless reinforced.
package selfheal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsloop/internal/fsutil"
)

const (
	rulesFileName   = "rules.json"
	metricsFileName = "metrics.json"
	eventsFileName  = "events.jsonl"

	warningGlyph = "⚠️ "
)

// Config holds the engine windows and thresholds.
type Config struct {
	MinSample      int
	HighSample     int
	TTL            time.Duration
	RecentWindow   time.Duration
	BaselineWindow time.Duration
}

// DefaultConfig returns the default windows and thresholds.
func DefaultConfig() Config {
	return Config{
		MinSample:      5,
		HighSample:     20,
		TTL:            7 * 24 * time.Hour,
		RecentWindow:   24 * time.Hour,
		BaselineWindow: 7 * 24 * time.Hour,
	}
}

// Engine owns the rule directory.
type Engine struct {
	dir    string
	cfg    Config
	lock   *fsutil.Lock
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine creates an engine rooted at dir. Zero config fields take
// their defaults.
func NewEngine(dir string, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.MinSample <= 0 {
		cfg.MinSample = def.MinSample
	}
	if cfg.HighSample <= 0 {
		cfg.HighSample = def.HighSample
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = def.RecentWindow
	}
	if cfg.BaselineWindow <= 0 {
		cfg.BaselineWindow = def.BaselineWindow
	}
	return &Engine{
		dir:    dir,
		cfg:    cfg,
		lock:   fsutil.NewLock(filepath.Join(dir, rulesFileName)),
		logger: logger,
		now:    time.Now,
	}
}

// Init creates the rule directory.
func (e *Engine) Init() error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("creating rules directory %s: %w", e.dir, err)
	}
	return nil
}

// EventsPath returns the event log file.
func (e *Engine) EventsPath() string { return filepath.Join(e.dir, eventsFileName) }

// RulesPath returns the rule file.
func (e *Engine) RulesPath() string { return filepath.Join(e.dir, rulesFileName) }

// MetricsPath returns the metrics snapshot file.
func (e *Engine) MetricsPath() string { return filepath.Join(e.dir, metricsFileName) }

// Record appends ev to the event log, stamping it if needed.
func (e *Engine) Record(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := fsutil.AppendLine(e.EventsPath(), data); err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	EventsRecorded.Inc()
	return nil
}

// Analyze computes per-sector trends over the event log and merges the
// resulting rules. Expired rules are pruned on every run.
func (e *Engine) Analyze(ctx context.Context) (*Analysis, error) {
	a, err := e.analyze(ctx)
	if err != nil {
		AnalysisRuns.WithLabelValues("error").Inc()
		return nil, err
	}
	AnalysisRuns.WithLabelValues("success").Inc()
	return a, nil
}

func (e *Engine) analyze(ctx context.Context) (*Analysis, error) {
	events, err := e.readEvents()
	if err != nil {
		return nil, err
	}

	now := e.now()
	recentStart := now.Add(-e.cfg.RecentWindow)
	baselineStart := now.Add(-e.cfg.BaselineWindow)
	baselineSpan := e.cfg.BaselineWindow - e.cfg.RecentWindow

	recent := make(map[Sector]int)
	baseline := make(map[Sector]int)
	for _, ev := range events {
		if ev.Timestamp.Before(baselineStart) {
			continue
		}
		inRecent := !ev.Timestamp.Before(recentStart)
		for _, s := range Classify(ev) {
			if inRecent {
				recent[s]++
			} else {
				baseline[s]++
			}
		}
	}

	a := &Analysis{
		AnalyzedAt: now,
		Events:     len(events),
		Failures:   make(map[Sector]int),
		Trends:     make(map[Sector]SectorTrend),
	}
	var fresh []Rule
	for _, s := range Sectors() {
		st := ComputeTrend(recent[s], baseline[s], e.cfg.RecentWindow, baselineSpan)
		st.SampleSize = recent[s] + baseline[s]
		st.Confidence = Confidence(st.SampleSize, e.cfg.MinSample, e.cfg.HighSample)
		a.Failures[s] = st.SampleSize
		a.Trends[s] = st
		SectorFailures.WithLabelValues(string(s)).Set(float64(st.SampleSize))

		if st.SampleSize >= e.cfg.MinSample {
			fresh = append(fresh, buildRule(s, st, now, e.cfg.TTL))
		}
	}

	err = e.lock.Do(func() error {
		existing, err := e.loadRules()
		if err != nil {
			return err
		}
		merged, res := mergeRules(existing, fresh, now)
		if err := fsutil.WriteJSONAtomic(e.RulesPath(), merged); err != nil {
			return fmt.Errorf("persisting rules: %w", err)
		}
		a.Rules = merged
		a.Added, a.Reinforced, a.Pruned = res.added, res.reinforced, res.pruned
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := fsutil.WriteJSONAtomic(e.MetricsPath(), a); err != nil {
		return nil, fmt.Errorf("persisting metrics snapshot: %w", err)
	}

	ActiveRules.Set(float64(len(a.Rules)))
	e.logger.Info("rule analysis complete",
		zap.Int("events", a.Events),
		zap.Int("rules", len(a.Rules)),
		zap.Int("added", a.Added),
		zap.Int("reinforced", a.Reinforced),
		zap.Int("pruned", a.Pruned))
	return a, nil
}

// Rules returns the non-expired rules, most confident first.
func (e *Engine) Rules(ctx context.Context) ([]Rule, error) {
	all, err := e.loadRules()
	if err != nil {
		return nil, err
	}
	now := e.now()
	live := make([]Rule, 0, len(all))
	for _, r := range all {
		if !r.Expired(now) {
			live = append(live, r)
		}
	}
	sortByConfidence(live)
	return live, nil
}

// Instructions returns the instructions of live rules for sector whose
// confidence is at least minConfidence, most confident first. Rising
// trends carry a warning prefix.
func (e *Engine) Instructions(ctx context.Context, sector Sector, minConfidence float64) ([]string, error) {
	rules, err := e.Rules(ctx)
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, r := range rules {
		if r.Sector != sector || r.Confidence < minConfidence {
			continue
		}
		text := r.Instruction
		if r.Trend.Rising() {
			text = warningGlyph + text
		}
		out = append(out, text)
	}
	return out, nil
}

// LastAnalysis returns the metrics snapshot of the previous run.
func (e *Engine) LastAnalysis() (*Analysis, error) {
	data, err := os.ReadFile(e.MetricsPath())
	if err != nil {
		return nil, err
	}
	var a Analysis
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decoding metrics snapshot: %w", err)
	}
	return &a, nil
}

func (e *Engine) loadRules() ([]Rule, error) {
	data, err := os.ReadFile(e.RulesPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading rules: %w", err)
	}
	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		e.logger.Warn("rule file unreadable, starting from an empty rule set", zap.Error(err))
		return nil, nil
	}
	return rules, nil
}

// readEvents parses the event log, skipping unparsable or unstamped lines.
func (e *Engine) readEvents() ([]Event, error) {
	f, err := os.Open(e.EventsPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	var events []Event
	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil || ev.Timestamp.IsZero() {
			skipped++
			continue
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading event log: %w", err)
	}
	if skipped > 0 {
		e.logger.Warn("skipped unparsable events", zap.Int("count", skipped))
	}
	return events, nil
}
