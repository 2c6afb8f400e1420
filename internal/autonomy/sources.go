package autonomy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/opsloop/internal/logging"
)

// MetricSource resolves named metrics. Found is false when the source
// does not know the metric.
type MetricSource interface {
	Name() string
	Metric(ctx context.Context, name string) (value float64, found bool, err error)
}

// Evaluator resolves metrics against an ordered list of sources.
type Evaluator struct {
	sources []MetricSource
	logger  *logging.Logger
}

// NewEvaluator creates an evaluator. Earlier sources take precedence.
func NewEvaluator(logger *zap.Logger, sources ...MetricSource) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{sources: sources, logger: logging.Wrap(logger)}
}

// Value returns the first value found for name. Source errors are
// logged and skipped; an unknown metric is 0.
func (e *Evaluator) Value(ctx context.Context, name string) (float64, string) {
	for _, s := range e.sources {
		v, ok, err := s.Metric(ctx, name)
		if err != nil {
			e.logger.Warn(ctx, "metric source failed",
				zap.String("source", s.Name()),
				zap.String("metric", name),
				zap.Error(err))
			continue
		}
		if ok {
			e.logger.Trace(ctx, "metric resolved",
				zap.String("metric", name),
				zap.String("source", s.Name()),
				zap.Float64("value", v))
			return v, s.Name()
		}
	}
	e.logger.Trace(ctx, "metric unknown, using 0", zap.String("metric", name))
	return 0, ""
}

// FuncSource serves metrics computed in process.
type FuncSource map[string]func(ctx context.Context) (float64, error)

// Name implements MetricSource.
func (FuncSource) Name() string { return "internal" }

// Metric implements MetricSource.
func (f FuncSource) Metric(ctx context.Context, name string) (float64, bool, error) {
	fn, ok := f[name]
	if !ok {
		return 0, false, nil
	}
	v, err := fn(ctx)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// JSONFileSource reads metrics from a JSON state file by dotted path,
// e.g. "leads.total". The file is read on every lookup; a missing file
// knows no metrics.
type JSONFileSource struct {
	Path string
}

// Name implements MetricSource.
func (s JSONFileSource) Name() string { return "file:" + s.Path }

// Metric implements MetricSource.
func (s JSONFileSource) Metric(ctx context.Context, name string) (float64, bool, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("reading state file: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, false, fmt.Errorf("decoding state file %s: %w", s.Path, err)
	}

	node := doc
	for _, key := range strings.Split(name, ".") {
		obj, ok := node.(map[string]any)
		if !ok {
			return 0, false, nil
		}
		if node, ok = obj[key]; !ok {
			return 0, false, nil
		}
	}
	return toFloat(node)
}

func toFloat(v any) (float64, bool, error) {
	switch x := v.(type) {
	case float64:
		return x, true, nil
	case bool:
		if x {
			return 1, true, nil
		}
		return 0, true, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false, nil
		}
		return f, true, nil
	case []any:
		return float64(len(x)), true, nil
	case map[string]any:
		return float64(len(x)), true, nil
	default:
		return 0, false, nil
	}
}

// SQLiteSource answers metrics with scalar queries against the lead
// store, opened read-only on first use. A missing database knows no
// metrics.
type SQLiteSource struct {
	path    string
	queries map[string]string

	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteSource creates a source mapping metric names to queries.
func NewSQLiteSource(path string, queries map[string]string) *SQLiteSource {
	return &SQLiteSource{path: path, queries: queries}
}

// Name implements MetricSource.
func (s *SQLiteSource) Name() string { return "sqlite:" + s.path }

// Metric implements MetricSource.
func (s *SQLiteSource) Metric(ctx context.Context, name string) (float64, bool, error) {
	query, ok := s.queries[name]
	if !ok {
		return 0, false, nil
	}
	db, err := s.open(ctx)
	if err != nil || db == nil {
		return 0, false, err
	}

	var v sql.NullFloat64
	if err := db.QueryRowContext(ctx, query).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("metric %s: %w", name, err)
	}
	if !v.Valid {
		return 0, true, nil
	}
	return v.Float64, true, nil
}

func (s *SQLiteSource) open(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("lead store: %w", err)
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, fmt.Errorf("open lead store: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, p := range []string{"PRAGMA query_only=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("lead store pragma %q: %w", p, err)
		}
	}
	s.db = db
	return db, nil
}

// Close releases the database handle.
func (s *SQLiteSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
