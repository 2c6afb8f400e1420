package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsloop/internal/config"
	"github.com/fyrsmithlabs/opsloop/internal/extraction"
	"github.com/fyrsmithlabs/opsloop/internal/services"
)

func setupTestServer(t *testing.T) (*Server, *services.Registry) {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()
	reg, err := services.New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	srv, err := NewServer(reg, zap.NewNop(), &Config{Addr: "127.0.0.1:0"})
	require.NoError(t, err)
	return srv, reg
}

func do(t *testing.T, srv *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()
	reg, err := services.New(cfg, nil)
	require.NoError(t, err)

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		srv, err := NewServer(reg, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9464", srv.config.Addr)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(reg, nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when registry is nil", func(t *testing.T) {
		_, err := NewServer(nil, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "registry cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	srv, reg := setupTestServer(t)

	rec := do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, services.StatusHealthy, resp.Status)
	require.NotNil(t, resp.Counts)
	assert.Zero(t, resp.Counts.Pending)

	kb := filepath.Join(reg.Config().Storage.DataDir, services.KnowledgeDir, "kb.json")
	require.NoError(t, os.WriteFile(kb, []byte("{"), 0o644))
	rec = do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := setupTestServer(t)
	do(t, srv, http.MethodGet, "/health", nil)

	rec := do(t, srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "opsloop_http_requests_total")
}

func TestSessionToQueueToReview(t *testing.T) {
	srv, _ := setupTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/sessions/s1/events", EventRequest{
		Agent: "user", Event: "user_message",
		Details: map[string]any{"text": "How much does the premium plan cost?"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, srv, http.MethodPost, "/api/v1/sessions/s1/events", EventRequest{
		Agent: "assistant", Event: "agent_response",
		Details: map[string]any{"text": "I don't know that yet."},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var ev EventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
	assert.Equal(t, 2, ev.HistoryCount)

	rec = do(t, srv, http.MethodPost, "/api/v1/sessions/s1/process", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var proc services.SessionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &proc))
	require.Positive(t, proc.Queued)

	rec = do(t, srv, http.MethodGet, "/api/v1/queue?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var q QueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	require.Equal(t, proc.Queued, q.Count)

	id := q.Entries[0].ID
	rec = do(t, srv, http.MethodPost, "/api/v1/queue/"+id+"/review", ReviewRequest{Status: extraction.StatusApproved, ReviewedBy: "alice"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/queue/nope/review", ReviewRequest{Status: extraction.StatusApproved})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/queue/"+id+"/review", ReviewRequest{Status: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/queue?status=%20", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/queue/"+id+"/review", ReviewRequest{Status: "needs_expert", ReviewedBy: "bob"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, srv, http.MethodGet, "/api/v1/queue?status=needs_expert", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.Equal(t, 1, q.Count)
}

func TestLogEvent_Validation(t *testing.T) {
	srv, _ := setupTestServer(t)
	rec := do(t, srv, http.MethodPost, "/api/v1/sessions/s1/events", EventRequest{Agent: "user"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRulesAndInstructions(t *testing.T) {
	srv, reg := setupTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/v1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	for i := 0; i < 6; i++ {
		rec = do(t, srv, http.MethodPost, "/api/v1/events", map[string]any{"status": "error", "message": "timeout"})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	_, err := reg.Rules().Analyze(t.Context())
	require.NoError(t, err)

	rec = do(t, srv, http.MethodGet, "/api/v1/instructions/ops", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp InstructionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Instructions, 1)
	assert.Equal(t, "ops", resp.Sector)

	rec = do(t, srv, http.MethodGet, "/api/v1/instructions/ops?min_confidence=0.99", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"instructions":[]`))

	rec = do(t, srv, http.MethodGet, "/api/v1/instructions/ops?min_confidence=2", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/instructions/finance", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleStats(t *testing.T) {
	srv, _ := setupTestServer(t)
	rec := do(t, srv, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st services.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Zero(t, st.Sessions)
}
