package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsloop/internal/fsutil"
	"github.com/fyrsmithlabs/opsloop/internal/sanitize"
)

// ErrEmptySessionID is returned by write operations given an empty id.
var ErrEmptySessionID = errors.New("session id is required")

// Redactor scrubs credentials from event details before they are
// persisted.
type Redactor interface {
	RedactDetails(details map[string]any) map[string]any
}

// Store is a directory-backed ContextRecord store.
type Store struct {
	dir      string
	lock     *fsutil.Lock
	logger   *zap.Logger
	redactor Redactor
	now      func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithRedactor redacts the details of every appended history entry.
func WithRedactor(r Redactor) StoreOption {
	return func(s *Store) { s.redactor = r }
}

// NewStore creates a store rooted at dir. Call Init before first use.
func NewStore(dir string, logger *zap.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		dir:    dir,
		lock:   fsutil.NewLock(filepath.Join(dir, ".sessions")),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init creates the storage directory.
func (s *Store) Init() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating session directory %s: %w", s.dir, err)
	}
	return nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, sanitize.FileName(id)+".json")
}

// Get returns the record for id. It never fails: a missing or unreadable
// file yields a default record.
func (s *Store) Get(ctx context.Context, id string) *ContextRecord {
	rec, err := s.read(id)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("session file unreadable, using default record",
				zap.String("session_id", id),
				zap.Error(err))
		}
		return newRecord(id, s.now())
	}
	return rec
}

func (s *Store) read(id string) (*ContextRecord, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, err
	}
	var rec ContextRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	rec.normalize(id, s.now())
	return &rec, nil
}

// Set merges u into the stored record and persists it atomically.
func (s *Store) Set(ctx context.Context, id string, u Update) (*ContextRecord, error) {
	if id == "" {
		return nil, ErrEmptySessionID
	}

	var merged *ContextRecord
	err := s.lock.Do(func() error {
		rec := s.Get(ctx, id)
		now := s.now()
		u.History = append([]HistoryEntry(nil), u.History...)
		for i := range u.History {
			if u.History[i].Timestamp.IsZero() {
				u.History[i].Timestamp = now
			}
			if s.redactor != nil {
				u.History[i].Details = s.redactor.RedactDetails(u.History[i].Details)
			}
		}
		u.Sentiment = append([]SentimentEntry(nil), u.Sentiment...)
		for i := range u.Sentiment {
			if u.Sentiment[i].Timestamp.IsZero() {
				u.Sentiment[i].Timestamp = now
			}
		}
		rec.merge(u, now)

		if err := fsutil.WriteJSONAtomic(s.path(id), rec); err != nil {
			return fmt.Errorf("persisting session %s: %w", id, err)
		}
		merged = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// LogEvent appends exactly one history entry.
func (s *Store) LogEvent(ctx context.Context, id, agent, event string, details map[string]any) (*ContextRecord, error) {
	return s.Set(ctx, id, Update{
		History: []HistoryEntry{{Agent: agent, Event: event, Details: details}},
	})
}

// Handoff records that control passed from one agent to another. It is
// observational only.
func (s *Store) Handoff(ctx context.Context, id, from, to, reason string) (*ContextRecord, error) {
	return s.LogEvent(ctx, id, from, EventHandoff, map[string]any{
		"from":   from,
		"to":     to,
		"reason": reason,
	})
}

// AppendSentiment appends one sentiment observation.
func (s *Store) AppendSentiment(ctx context.Context, id string, score float64, label, source string) (*ContextRecord, error) {
	return s.Set(ctx, id, Update{
		Sentiment: []SentimentEntry{{Score: score, Label: label, Source: source}},
	})
}

// List returns the ids of all stored sessions, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		base := strings.TrimSuffix(name, ".json")
		if rec, err := s.readFile(filepath.Join(s.dir, name)); err == nil && rec.SessionID != "" {
			ids = append(ids, rec.SessionID)
		} else {
			ids = append(ids, base)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) readFile(path string) (*ContextRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec ContextRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
