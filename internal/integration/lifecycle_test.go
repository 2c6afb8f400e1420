//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsloop/internal/config"
	"github.com/fyrsmithlabs/opsloop/internal/directive"
	"github.com/fyrsmithlabs/opsloop/internal/extraction"
	"github.com/fyrsmithlabs/opsloop/internal/selfheal"
	"github.com/fyrsmithlabs/opsloop/internal/services"
	"github.com/fyrsmithlabs/opsloop/internal/session"
	"github.com/fyrsmithlabs/opsloop/internal/validation"
)

func TestFeedbackLoop_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	root := t.TempDir()
	scripts := filepath.Join(root, "scripts")
	require.NoError(t, os.MkdirAll(scripts, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(scripts, "scrape_leads.py"), []byte("print('ok')\n"), 0o755))

	cfg := config.Default()
	cfg.Storage.DataDir = filepath.Join(root, "data")
	cfg.Dispatcher.ScriptDirs = []string{scripts}
	reg, err := services.New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	ctx := context.Background()

	t.Run("session_to_knowledge", func(t *testing.T) {
		_, err := reg.Sessions().LogEvent(ctx, "sess_1", session.AgentUser, session.EventUserMessage,
			map[string]any{"text": "Quel est le prix de l'abonnement ? ma cle api_key=abcd1234efgh5678ijkl"})
		require.NoError(t, err)
		_, err = reg.Sessions().LogEvent(ctx, "sess_1", "assistant", session.EventAgentResponse,
			map[string]any{"text": "Je ne sais pas, je vais vérifier."})
		require.NoError(t, err)

		res, err := reg.ProcessSession(ctx, "sess_1")
		require.NoError(t, err)
		require.Positive(t, res.Queued)

		pending, err := reg.Queue().List(ctx, extraction.StatusPending)
		require.NoError(t, err)
		for _, e := range pending {
			assert.NotContains(t, e.UserMessage, "abcd1234efgh5678ijkl")
			_, err := reg.Queue().SetStatus(ctx, e.ID, extraction.StatusApproved, validation.Review{ReviewedBy: "qa"})
			require.NoError(t, err)
		}

		processed, err := reg.Knowledge().ProcessApproved(ctx)
		require.NoError(t, err)
		injected := processed.Processed
		assert.Positive(t, injected)
		assert.Equal(t, injected, len(processed.InjectedIDs))

		stats, err := reg.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, injected, stats.Queue.Injected)

		again, err := reg.Knowledge().ProcessApproved(ctx)
		require.NoError(t, err)
		assert.Zero(t, again.Processed)
	})

	t.Run("events_to_instructions", func(t *testing.T) {
		for i := 0; i < 6; i++ {
			require.NoError(t, reg.Rules().Record(ctx, selfheal.Event{Source: "worker", Status: selfheal.StatusError}))
		}
		a, err := reg.Rules().Analyze(ctx)
		require.NoError(t, err)
		assert.Equal(t, selfheal.TrendEmerging, a.Trends[selfheal.SectorOps].Trend)

		instructions, err := reg.Rules().Instructions(ctx, selfheal.SectorOps, 0)
		require.NoError(t, err)
		require.NotEmpty(t, instructions)
	})

	t.Run("directive_dry_run", func(t *testing.T) {
		out, err := reg.Dispatcher().Run(ctx, "Find 30 new plumber leads in Lyon", directive.ExecuteOptions{SessionID: "autonomy"})
		require.NoError(t, err)
		require.True(t, out.Executed())
		assert.Equal(t, directive.ModeDryRun, out.Result.Mode)
		assert.FileExists(t, out.Result.ArtifactPath)

		rec := reg.Sessions().Get(ctx, "autonomy")
		assert.NotEmpty(t, rec.History)
	})
}
