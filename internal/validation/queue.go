// Package validation implements the human-in-the-loop review queue.
//
// The queue is a JSON-lines file. New facts are appended; review actions
// rewrite the whole file atomically under a cross-process lock; decided
// entries are moved to dated archive files.
package validation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsloop/internal/extraction"
	"github.com/fyrsmithlabs/opsloop/internal/fsutil"
)

const (
	queueFileName = "queue.jsonl"
	archiveDir    = "archive"

	// maxLineSize bounds one queue line. Excerpts are truncated so real
	// entries stay far below it.
	maxLineSize = 1 << 20
)

var (
	// ErrEmptyID is returned when a status change names no entry.
	ErrEmptyID = errors.New("entry id is required")
	// ErrInvalidStatus is returned for a blank status or one carrying
	// control characters.
	ErrInvalidStatus = errors.New("invalid review status")
)

// ValidStatus reports whether status can be recorded. Reviewers may
// assign any value besides the well-known ones in package extraction.
func ValidStatus(status string) bool {
	if strings.TrimSpace(status) == "" {
		return false
	}
	return !strings.ContainsFunc(status, unicode.IsControl)
}

// Config holds queue thresholds.
type Config struct {
	// MinConfidence drops facts below it at submission.
	MinConfidence float64
	// MaxLive triggers an archive pass when a submission would exceed it.
	MaxLive int
	// MaxPending is the number of newest pending entries kept live.
	MaxPending int
	// InjectMinConfidence is the knowledge injector's floor. Approved
	// entries below it are never injected, so archival treats them as
	// decided.
	InjectMinConfidence float64
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{MinConfidence: 0.5, MaxLive: 1000, MaxPending: 500, InjectMinConfidence: 0.6}
}

// Queue is the validation queue rooted at one directory.
type Queue struct {
	dir    string
	cfg    Config
	lock   *fsutil.Lock
	logger *zap.Logger
	now    func() time.Time
}

// NewQueue creates a queue in dir. Call Init before first use.
func NewQueue(dir string, cfg Config, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.MaxLive <= 0 {
		cfg.MaxLive = def.MaxLive
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = def.MaxPending
	}
	return &Queue{
		dir:    dir,
		cfg:    cfg,
		lock:   fsutil.NewLock(filepath.Join(dir, queueFileName)),
		logger: logger,
		now:    time.Now,
	}
}

// Init creates the queue and archive directories.
func (q *Queue) Init() error {
	if err := os.MkdirAll(filepath.Join(q.dir, archiveDir), 0o755); err != nil {
		return fmt.Errorf("creating queue directory %s: %w", q.dir, err)
	}
	return nil
}

// Path returns the live queue file.
func (q *Queue) Path() string {
	return filepath.Join(q.dir, queueFileName)
}

// ArchiveDir returns the directory holding archive files.
func (q *Queue) ArchiveDir() string {
	return filepath.Join(q.dir, archiveDir)
}

// Submit queues facts as pending entries and returns how many were
// queued. Facts below MinConfidence, duplicates within the batch and ids
// already live are dropped.
func (q *Queue) Submit(ctx context.Context, facts []extraction.CandidateFact) (int, error) {
	var eligible []extraction.CandidateFact
	for _, f := range facts {
		if f.Confidence < q.cfg.MinConfidence {
			FactsSubmitted.WithLabelValues("below_threshold").Inc()
			continue
		}
		eligible = append(eligible, f)
	}
	unique := extraction.Dedupe(eligible)
	if dropped := len(eligible) - len(unique); dropped > 0 {
		FactsSubmitted.WithLabelValues("duplicate").Add(float64(dropped))
	}
	if len(unique) == 0 {
		return 0, nil
	}

	queued := 0
	err := q.lock.Do(func() error {
		live, _, err := q.readAll()
		if err != nil {
			return err
		}

		known := make(map[string]bool, len(live))
		for _, e := range live {
			known[e.ID] = true
		}
		now := q.now()
		fresh := make([]Entry, 0, len(unique))
		for _, f := range unique {
			if known[f.ID] {
				FactsSubmitted.WithLabelValues("duplicate").Inc()
				continue
			}
			known[f.ID] = true
			f.Status = extraction.StatusPending
			if f.CreatedAt.IsZero() {
				f.CreatedAt = now
			}
			fresh = append(fresh, Entry{CandidateFact: f})
		}
		if len(fresh) == 0 {
			return nil
		}

		if len(live)+len(fresh) > q.cfg.MaxLive {
			if _, err := q.archiveLocked(live); err != nil {
				return err
			}
		}

		if err := fsutil.AppendJSONLines(q.Path(), fresh); err != nil {
			return fmt.Errorf("appending to queue: %w", err)
		}
		queued = len(fresh)
		return nil
	})
	if err != nil {
		return 0, err
	}

	FactsSubmitted.WithLabelValues("queued").Add(float64(queued))
	q.logger.Info("facts queued for review",
		zap.Int("offered", len(facts)),
		zap.Int("queued", queued))
	return queued, nil
}

// List returns live entries, optionally filtered by status. An empty
// status returns everything. Unparsable lines are skipped.
func (q *Queue) List(ctx context.Context, status string) ([]Entry, error) {
	entries, _, err := q.readAll()
	if err != nil {
		return nil, err
	}
	if status == "" {
		return entries, nil
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out, nil
}

// Get returns the live entry with id.
func (q *Queue) Get(ctx context.Context, id string) (*Entry, bool, error) {
	entries, _, err := q.readAll()
	if err != nil {
		return nil, false, err
	}
	for i := range entries {
		if entries[i].ID == id {
			return &entries[i], true, nil
		}
	}
	return nil, false, nil
}

// SetStatus applies one review action. It reports false when no live
// entry has id.
func (q *Queue) SetStatus(ctx context.Context, id, status string, review Review) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}
	if !ValidStatus(status) {
		return false, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	found := false
	err := q.lock.Do(func() error {
		entries, _, err := q.readAll()
		if err != nil {
			return err
		}
		now := q.now()
		for i := range entries {
			if entries[i].ID != id {
				continue
			}
			entries[i].Status = status
			entries[i].ReviewedAt = &now
			entries[i].ReviewedBy = review.ReviewedBy
			if review.ModifiedFact != "" {
				entries[i].ModifiedFact = review.ModifiedFact
			}
			found = true
			break
		}
		if !found {
			return nil
		}
		return q.writeAll(entries)
	})
	if err != nil {
		return false, err
	}

	if found {
		ReviewsTotal.WithLabelValues(status).Inc()
		q.logger.Info("queue entry reviewed",
			zap.String("fact_id", id),
			zap.String("status", status),
			zap.String("reviewed_by", review.ReviewedBy))
	}
	return found, nil
}

// MarkInjected flags the given entries as injected into the knowledge
// base. Entries already flagged keep their original timestamp. It
// returns the number of entries changed.
func (q *Queue) MarkInjected(ctx context.Context, ids []string, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	changed := 0
	err := q.lock.Do(func() error {
		entries, _, err := q.readAll()
		if err != nil {
			return err
		}
		for i := range entries {
			if !want[entries[i].ID] || entries[i].InjectedToKB {
				continue
			}
			stamp := at
			entries[i].InjectedToKB = true
			entries[i].InjectedAt = &stamp
			changed++
		}
		if changed == 0 {
			return nil
		}
		return q.writeAll(entries)
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// Archive moves decided entries and pending overflow to today's archive
// file. Pending and modified entries stay live, as do approved entries
// the injector will still take. Running it with nothing to move
// performs no writes.
func (q *Queue) Archive(ctx context.Context) (ArchiveResult, error) {
	var res ArchiveResult
	err := q.lock.Do(func() error {
		entries, _, err := q.readAll()
		if err != nil {
			return err
		}
		res, err = q.archiveLocked(entries)
		return err
	})
	return res, err
}

// archiveLocked splits entries into kept and moved sets. Callers hold
// the lock.
func (q *Queue) archiveLocked(entries []Entry) (ArchiveResult, error) {
	pendingIdx := make([]int, 0, len(entries))
	for i, e := range entries {
		if e.IsPending() {
			pendingIdx = append(pendingIdx, i)
		}
	}
	// Entries are appended in arrival order, so the newest pending
	// entries are the last ones.
	overflow := make(map[int]bool)
	if extra := len(pendingIdx) - q.cfg.MaxPending; extra > 0 {
		for _, i := range pendingIdx[:extra] {
			overflow[i] = true
		}
	}

	var kept, moved []Entry
	res := ArchiveResult{}
	for i, e := range entries {
		switch {
		case e.IsPending() && !overflow[i]:
			kept = append(kept, e)
			res.KeptPending++
		case e.Status == extraction.StatusModified:
			// A rewording still awaits approval.
			kept = append(kept, e)
		case q.awaitingInjection(e):
			kept = append(kept, e)
		default:
			moved = append(moved, e)
		}
	}
	res.KeptLive = len(kept)

	if len(moved) == 0 {
		return res, nil
	}

	file := filepath.Join(q.ArchiveDir(), "queue_"+q.now().UTC().Format("2006-01-02")+".jsonl")
	if err := fsutil.AppendJSONLines(file, moved); err != nil {
		return res, fmt.Errorf("writing archive: %w", err)
	}
	if err := q.writeAll(kept); err != nil {
		return res, err
	}

	res.Archived = len(moved)
	res.File = file
	EntriesArchived.Add(float64(len(moved)))
	q.logger.Info("queue archived",
		zap.Int("archived", res.Archived),
		zap.Int("kept_live", res.KeptLive),
		zap.String("file", file))
	return res, nil
}

// awaitingInjection reports whether the injector may still consume e.
func (q *Queue) awaitingInjection(e Entry) bool {
	return e.Status == extraction.StatusApproved &&
		!e.InjectedToKB &&
		e.Confidence >= q.cfg.InjectMinConfidence
}

// Stats counts live entries by status and type.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	entries, corrupt, err := q.readAll()
	if err != nil {
		return nil, err
	}
	st := &Stats{
		Total:    len(entries),
		ByStatus: make(map[string]int),
		ByType:   make(map[string]int),
		Corrupt:  corrupt,
	}
	for _, e := range entries {
		st.ByStatus[e.Status]++
		st.ByType[string(e.Type)]++
		if e.InjectedToKB {
			st.Injected++
		}
	}
	return st, nil
}

// readAll parses the live file. A missing file is an empty queue.
func (q *Queue) readAll() ([]Entry, int, error) {
	f, err := os.Open(q.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("opening queue: %w", err)
	}
	defer f.Close()

	var entries []Entry
	corrupt := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil || e.ID == "" {
			corrupt++
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, 0, fmt.Errorf("reading queue: %w", err)
	}

	if corrupt > 0 {
		CorruptLines.Add(float64(corrupt))
		q.logger.Warn("skipped unparsable queue lines", zap.Int("count", corrupt))
	}
	return entries, corrupt, nil
}

// writeAll replaces the live file with entries.
func (q *Queue) writeAll(entries []Entry) error {
	var buf bytes.Buffer
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encoding entry %s: %w", e.ID, err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	if err := fsutil.WriteFileAtomic(q.Path(), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("rewriting queue: %w", err)
	}
	updateLiveGauge(entries)
	return nil
}
