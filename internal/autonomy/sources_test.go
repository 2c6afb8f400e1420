package autonomy

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestJSONFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	writeFile(t, path, `{
		"leads": {"total": 42, "list": [1, 2, 3], "ratio": "0.5"},
		"active": true,
		"name": "x"
	}`)
	src := JSONFileSource{Path: path}
	ctx := context.Background()

	tests := []struct {
		metric string
		want   float64
		found  bool
	}{
		{"leads.total", 42, true},
		{"leads.list", 3, true},
		{"leads.ratio", 0.5, true},
		{"leads", 3, true},
		{"active", 1, true},
		{"name", 0, false},
		{"leads.missing", 0, false},
		{"leads.total.deeper", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			v, ok, err := src.Metric(ctx, tt.metric)
			require.NoError(t, err)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestJSONFileSource_MissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	_, ok, err := JSONFileSource{Path: filepath.Join(dir, "none.json")}.Metric(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	corrupt := filepath.Join(dir, "corrupt.json")
	writeFile(t, corrupt, "{not json")
	_, _, err = JSONFileSource{Path: corrupt}.Metric(ctx, "a")
	assert.Error(t, err)
}

func TestSQLiteSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leads.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE leads (id INTEGER PRIMARY KEY, city TEXT, score REAL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO leads (city, score) VALUES ('Nantes', 0.5), ('Nantes', 1.5), ('Paris', 2)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	src := NewSQLiteSource(path, map[string]string{
		"leads.total":  "SELECT COUNT(*) FROM leads",
		"leads.nantes": "SELECT COUNT(*) FROM leads WHERE city = 'Nantes'",
		"leads.avg":    "SELECT AVG(score) FROM leads WHERE city = 'Nowhere'",
		"broken":       "SELECT nope FROM missing",
	})
	t.Cleanup(func() { _ = src.Close() })
	ctx := context.Background()

	v, ok, err := src.Metric(ctx, "leads.total")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)

	v, ok, err = src.Metric(ctx, "leads.nantes")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)

	v, ok, err = src.Metric(ctx, "leads.avg")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, v)

	_, ok, err = src.Metric(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = src.Metric(ctx, "broken")
	assert.Error(t, err)
}

func TestSQLiteSource_MissingDatabase(t *testing.T) {
	src := NewSQLiteSource(filepath.Join(t.TempDir(), "none.db"), map[string]string{"leads.total": "SELECT 1"})
	_, ok, err := src.Metric(context.Background(), "leads.total")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, src.Close())
}

func TestEvaluator_PrecedenceAndMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	writeFile(t, path, `{"leads": {"total": 7}, "other": 3}`)

	internal := FuncSource{
		"leads.total": func(context.Context) (float64, error) { return 99, nil },
		"failing":     func(context.Context) (float64, error) { return 0, errors.New("boom") },
	}
	ev := NewEvaluator(zap.NewNop(), internal, JSONFileSource{Path: path})
	ctx := context.Background()

	v, src := ev.Value(ctx, "leads.total")
	assert.Equal(t, 99.0, v)
	assert.Equal(t, "internal", src)

	v, src = ev.Value(ctx, "other")
	assert.Equal(t, 3.0, v)
	assert.Equal(t, "file:"+path, src)

	v, src = ev.Value(ctx, "failing")
	assert.Zero(t, v)
	assert.Empty(t, src)

	v, src = ev.Value(ctx, "nowhere")
	assert.Zero(t, v)
	assert.Empty(t, src)
}
