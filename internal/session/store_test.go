package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsloop/internal/sanitize"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(filepath.Join(t.TempDir(), "sessions"), zap.NewNop())
	require.NoError(t, s.Init())
	return s
}

func TestStore_GetMissingReturnsDefault(t *testing.T) {
	s := newTestStore(t)

	rec := s.Get(context.Background(), "sess_new")

	require.NotNil(t, rec)
	assert.Equal(t, "sess_new", rec.SessionID)
	assert.Equal(t, StatusActive, rec.Status)
	assert.NotNil(t, rec.Identity)
	assert.Empty(t, rec.History)
	assert.False(t, rec.CreatedAt.IsZero())

	// Reading does not create a file
	_, err := os.Stat(s.path("sess_new"))
	assert.True(t, os.IsNotExist(err))
}

func TestStore_GetCorruptReturnsDefault(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.path("sess_bad"), []byte("{not json"), 0o644))

	rec := s.Get(context.Background(), "sess_bad")

	assert.Equal(t, "sess_bad", rec.SessionID)
	assert.Empty(t, rec.History)
}

func TestStore_SetMergesAdditively(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Set(ctx, "sess_1", Update{
		Identity: map[string]any{"name": "Alice", "company": "Acme"},
		History:  []HistoryEntry{{Agent: AgentUser, Event: EventUserMessage, Details: map[string]any{"text": "hi"}}},
	})
	require.NoError(t, err)

	rec, err := s.Set(ctx, "sess_1", Update{
		Identity:  map[string]any{"company": "Globex", "role": "CMO"},
		Intent:    map[string]any{"goal": "more leads"},
		Sentiment: []SentimentEntry{{Score: 0.8, Label: "positive"}},
		History:   []HistoryEntry{{Agent: "sales_agent", Event: EventAgentResponse}},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"name": "Alice", "company": "Globex", "role": "CMO"}, rec.Identity)
	assert.Equal(t, "more leads", rec.Intent["goal"])
	assert.Len(t, rec.Sentiment, 1)
	require.Len(t, rec.History, 2)
	assert.Equal(t, EventUserMessage, rec.History[0].Event)
	assert.Equal(t, EventAgentResponse, rec.History[1].Event)
	assert.False(t, rec.History[1].Timestamp.IsZero())

	// Persisted value equals returned value
	reread := s.Get(ctx, "sess_1")
	assert.Equal(t, rec.Identity, reread.Identity)
	assert.Len(t, reread.History, 2)
}

func TestStore_SetEmptyID(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Set(context.Background(), "", Update{})
	assert.ErrorIs(t, err, ErrEmptySessionID)
}

func TestStore_LogEventAndHandoff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LogEvent(ctx, "sess_2", "voice_agent", "call_started", map[string]any{"duration": 12})
	require.NoError(t, err)
	rec, err := s.Handoff(ctx, "sess_2", "voice_agent", "closer_agent", "qualified")
	require.NoError(t, err)

	require.Len(t, rec.History, 2)
	last := rec.History[1]
	assert.Equal(t, EventHandoff, last.Event)
	assert.Equal(t, "closer_agent", last.Details["to"])
	assert.Equal(t, "qualified", last.Details["reason"])
	assert.Equal(t, StatusActive, rec.Status)
}

func TestStore_ConcurrentLogEventsAreNotLost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.LogEvent(ctx, "sess_c", "agent", "tick", map[string]any{"i": i})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, s.Get(ctx, "sess_c").History, 25)
}

func TestStore_UnsafeIDsStayInsideDir(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LogEvent(ctx, "../escape", "agent", "x", nil)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(s.Dir(), sanitize.FileName("../escape")+".json"))
	require.NoError(t, err)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"../escape"}, ids)
}

func TestStore_TimestampsAdvance(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	ctx := context.Background()

	_, err := s.LogEvent(ctx, "sess_t", "a", "first", nil)
	require.NoError(t, err)

	s.now = func() time.Time { return base.Add(time.Hour) }
	rec, err := s.LogEvent(ctx, "sess_t", "a", "second", nil)
	require.NoError(t, err)

	assert.Equal(t, base, rec.CreatedAt)
	assert.Equal(t, base.Add(time.Hour), rec.UpdatedAt)
}

type maskRedactor struct{ word string }

func (m maskRedactor) RedactDetails(details map[string]any) map[string]any {
	out := make(map[string]any, len(details))
	for k, v := range details {
		if s, ok := v.(string); ok && s == m.word {
			v = "[REDACTED]"
		}
		out[k] = v
	}
	return out
}

func TestStore_RedactsHistoryDetails(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "sessions"), zap.NewNop(), WithRedactor(maskRedactor{word: "hunter2"}))
	require.NoError(t, s.Init())
	ctx := context.Background()

	_, err := s.LogEvent(ctx, "sess_1", AgentUser, EventUserMessage, map[string]any{"text": "hunter2", "lang": "fr"})
	require.NoError(t, err)

	rec := s.Get(ctx, "sess_1")
	require.Len(t, rec.History, 1)
	assert.Equal(t, "[REDACTED]", rec.History[0].Details["text"])
	assert.Equal(t, "fr", rec.History[0].Details["lang"])
}
