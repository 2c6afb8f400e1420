package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsloop/internal/config"
	"github.com/fyrsmithlabs/opsloop/internal/extraction"
	ophttp "github.com/fyrsmithlabs/opsloop/internal/http"
	"github.com/fyrsmithlabs/opsloop/internal/services"
)

// newDaemon serves the opsloopd API over a fresh registry.
func newDaemon(t *testing.T) (*httptest.Server, *services.Registry) {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()
	reg, err := services.New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	srv, err := ophttp.NewServer(reg, zap.NewNop(), nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Echo())
	t.Cleanup(ts.Close)
	return ts, reg
}

func TestNewClient_AddsScheme(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:9464", NewClient("127.0.0.1:9464").BaseURL())
	assert.Equal(t, "https://ops.example.com", NewClient("https://ops.example.com/").BaseURL())
}

func TestClient_Fetch(t *testing.T) {
	ts, reg := newDaemon(t)
	ctx := context.Background()
	_, err := reg.Queue().Submit(ctx, []extraction.CandidateFact{{
		ID:            "f1",
		Type:          extraction.TypeGap,
		UserMessage:   "Do you deliver on Sundays?",
		ExtractedFact: "delivery days unknown",
		Confidence:    0.9,
		Status:        extraction.StatusPending,
	}})
	require.NoError(t, err)

	snap, err := NewClient(ts.URL).Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, services.StatusHealthy, snap.Health.Status)
	require.NotNil(t, snap.Stats.Queue)
	assert.Equal(t, 1, snap.Stats.Queue.Total)
	assert.Equal(t, 1, snap.Stats.Queue.ByStatus[extraction.StatusPending])
	require.NotNil(t, snap.Stats.Knowledge)
	assert.False(t, snap.FetchedAt.IsZero())
}

func TestClient_FetchCorruptStore(t *testing.T) {
	ts, reg := newDaemon(t)
	kb := filepath.Join(reg.Config().Storage.DataDir, services.KnowledgeDir, "kb.json")
	require.NoError(t, os.WriteFile(kb, []byte("{"), 0o644))

	_, err := NewClient(ts.URL).Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GET /api/v1/stats")
}

func TestClient_FetchErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"healthy"}`))
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code 500")

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer bad.Close()
	_, err = NewClient(bad.URL).Fetch(context.Background())
	assert.ErrorContains(t, err, "failed to decode response")

	ts.Close()
	_, err = NewClient(ts.URL).Fetch(context.Background())
	assert.Error(t, err)
}
