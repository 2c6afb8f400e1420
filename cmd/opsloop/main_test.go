package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsloop/internal/config"
	ophttp "github.com/fyrsmithlabs/opsloop/internal/http"
	"github.com/fyrsmithlabs/opsloop/internal/knowledge"
	"github.com/fyrsmithlabs/opsloop/internal/monitor"
	"github.com/fyrsmithlabs/opsloop/internal/services"
	"github.com/fyrsmithlabs/opsloop/internal/session"
	"github.com/fyrsmithlabs/opsloop/internal/validation"
)

// workspace runs every command from an empty working directory with its
// own data directory.
func workspace(t *testing.T) string {
	t.Helper()
	t.Chdir(t.TempDir())
	return filepath.Join(t.TempDir(), "data")
}

func run(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--data-dir", dataDir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func runJSON(t *testing.T, dataDir string, v any, args ...string) {
	t.Helper()
	out, err := run(t, dataDir, append(args, "--json")...)
	require.NoError(t, err, out)
	require.NoError(t, json.Unmarshal([]byte(out), v), out)
}

func seedSession(t *testing.T, dataDir, id string) {
	t.Helper()
	store := session.NewStore(filepath.Join(dataDir, services.SessionsDir), zap.NewNop())
	require.NoError(t, store.Init())
	ctx := context.Background()
	_, err := store.LogEvent(ctx, id, session.AgentUser, session.EventUserMessage,
		map[string]any{"text": "How much does the premium plan cost?"})
	require.NoError(t, err)
	_, err = store.LogEvent(ctx, id, "assistant", session.EventAgentResponse,
		map[string]any{"text": "I don't know that yet."})
	require.NoError(t, err)
}

func TestHealth(t *testing.T) {
	dataDir := workspace(t)
	out, err := run(t, dataDir, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "status: healthy")
	assert.Contains(t, out, "pending: 0")
	assert.NoDirExists(t, dataDir, "health must not create the data directory")
}

func TestReadOnlyCommands_LeaveDataDirUntouched(t *testing.T) {
	dataDir := workspace(t)
	for _, args := range [][]string{
		{"stats"},
		{"versions"},
		{"queue"},
		{"instructions", "ops"},
	} {
		_, err := run(t, dataDir, args...)
		require.NoError(t, err, args)
	}
	assert.NoDirExists(t, dataDir)

	_, err := run(t, dataDir, "archive")
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(dataDir, services.QueueDir))
}

func TestHealth_Counts(t *testing.T) {
	dataDir := workspace(t)
	seedSession(t, dataDir, "s1")
	_, err := run(t, dataDir, "process-session", "s1")
	require.NoError(t, err)

	var h services.Health
	runJSON(t, dataDir, &h, "health")
	assert.Equal(t, services.StatusHealthy, h.Status)
	assert.Equal(t, 1, h.Counts.Sessions)
	assert.Equal(t, 2, h.Counts.Pending)
	assert.Zero(t, h.Counts.KBChunks)
	assert.Zero(t, h.Counts.ActiveRules)
}

func TestHealth_DegradedFails(t *testing.T) {
	dataDir := workspace(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, services.KnowledgeDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, services.KnowledgeDir, "kb.json"), []byte("{"), 0o644))

	_, err := run(t, dataDir, "health")
	assert.Error(t, err)
}

func TestPipeline(t *testing.T) {
	dataDir := workspace(t)
	seedSession(t, dataDir, "s1")

	var sres services.SessionResult
	runJSON(t, dataDir, &sres, "process-session", "s1")
	require.Equal(t, 2, sres.Queued)

	var entries []validation.Entry
	runJSON(t, dataDir, &entries, "queue", "--pending")
	require.Len(t, entries, 2)

	for _, e := range entries {
		_, err := run(t, dataDir, "review", e.ID, "approved", "--by", "alice")
		require.NoError(t, err)
	}
	_, err := run(t, dataDir, "review", "missing", "approved")
	assert.Error(t, err)
	_, err = run(t, dataDir, "review", entries[0].ID, "   ")
	assert.ErrorIs(t, err, validation.ErrInvalidStatus)

	var pres knowledge.ProcessResult
	runJSON(t, dataDir, &pres, "process-approved")
	assert.Equal(t, 2, pres.Processed)
	assert.Equal(t, 2, pres.TotalChunks)
	assert.NotEmpty(t, pres.Backup)

	var versions []knowledge.VersionInfo
	runJSON(t, dataDir, &versions, "versions")
	require.Len(t, versions, 1)
	assert.Equal(t, knowledge.ReasonPreEnrichment, versions[0].Reason)

	var rres knowledge.RollbackResult
	runJSON(t, dataDir, &rres, "rollback", versions[0].File)
	assert.Zero(t, rres.Restored)

	_, err = run(t, dataDir, "rollback", "../../etc/passwd")
	assert.Error(t, err)

	var ares validation.ArchiveResult
	runJSON(t, dataDir, &ares, "archive")
	assert.Equal(t, 2, ares.Archived)

	var st services.Stats
	runJSON(t, dataDir, &st, "stats")
	assert.Equal(t, 1, st.Sessions)
	assert.Zero(t, st.Queue.Total)
	assert.Zero(t, st.Knowledge.TotalChunks)
	assert.Equal(t, 2, st.Knowledge.Versions)
}

func TestQueue_HumanOutput(t *testing.T) {
	dataDir := workspace(t)
	out, err := run(t, dataDir, "queue")
	require.NoError(t, err)
	assert.Contains(t, out, "queue is empty")

	_, err = run(t, dataDir, "queue", "--status", "bogus")
	assert.Error(t, err)
}

func TestAnalyzeAndInstructions(t *testing.T) {
	dataDir := workspace(t)

	out, err := run(t, dataDir, "analyze")
	require.NoError(t, err)
	assert.Contains(t, out, "0 events")

	var lines []string
	runJSON(t, dataDir, &lines, "instructions", "seo")
	assert.Empty(t, lines)

	_, err = run(t, dataDir, "instructions", "finance")
	assert.ErrorContains(t, err, "unknown sector")
}

func TestDispatch(t *testing.T) {
	dataDir := workspace(t)
	require.NoError(t, os.MkdirAll("scripts", 0o755))
	require.NoError(t, os.WriteFile(filepath.Join("scripts", "seo_audit.py"), []byte("print('ok')\n"), 0o755))

	out, err := run(t, dataDir, "dispatch", "run", "an", "seo", "audit")
	require.NoError(t, err, out)
	assert.Contains(t, out, "tool: seo_audit")
	assert.Contains(t, out, "dry_run run: success=true")

	artifacts, err := os.ReadDir(filepath.Join(dataDir, services.ArtifactsDir))
	require.NoError(t, err)
	assert.Len(t, artifacts, 1)

	_, err = run(t, dataDir, "dispatch", "find leads")
	assert.ErrorContains(t, err, "plan rejected")

	_, err = run(t, dataDir, "dispatch", "bake a cake")
	assert.Error(t, err)
}

func TestUnknownConfigFileFails(t *testing.T) {
	dataDir := workspace(t)
	_, err := run(t, dataDir, "--config", "missing.yaml", "health")
	assert.Error(t, err)
}

func TestMonitorOnce(t *testing.T) {
	dataDir := workspace(t)
	cfg := config.Default()
	cfg.Storage.DataDir = dataDir
	reg, err := services.New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	srv, err := ophttp.NewServer(reg, zap.NewNop(), nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Echo())
	defer ts.Close()

	out, err := run(t, dataDir, "monitor", "--once", "--addr", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "opsloop Monitor")
	assert.Contains(t, out, "Review Queue")

	var snap monitor.Snapshot
	runJSON(t, dataDir, &snap, "monitor", "--once", "--addr", ts.URL)
	assert.Equal(t, services.StatusHealthy, snap.Health.Status)
	require.NotNil(t, snap.Stats.Queue)

	ts.Close()
	_, err = run(t, dataDir, "monitor", "--once", "--addr", ts.URL)
	assert.Error(t, err)
}

func TestMCPCommandRegistered(t *testing.T) {
	cmd, _, err := newRootCmd(io.Discard).Find([]string{"mcp"})
	require.NoError(t, err)
	assert.Equal(t, "mcp", cmd.Name())
	assert.NotNil(t, cmd.RunE)
}
