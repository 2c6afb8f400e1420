package selfheal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsloop/internal/fsutil"
)

var testNow = time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(filepath.Join(t.TempDir(), "rules"), DefaultConfig(), zap.NewNop())
	e.now = func() time.Time { return testNow }
	require.NoError(t, e.Init())
	return e
}

func recordOpsErrors(t *testing.T, e *Engine, n int, age time.Duration) {
	t.Helper()
	now := e.now()
	for i := 0; i < n; i++ {
		require.NoError(t, e.Record(context.Background(), Event{
			Timestamp: now.Add(-age - time.Duration(i)*time.Minute),
			Source:    "workflow",
			Status:    StatusError,
		}))
	}
}

func TestAnalyze_EmergingOpsRule(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	recordOpsErrors(t, e, 6, time.Hour)

	a, err := e.Analyze(ctx)
	require.NoError(t, err)

	ops := a.Trends[SectorOps]
	assert.Equal(t, TrendEmerging, ops.Trend)
	assert.Equal(t, 6, ops.Recent)
	assert.Equal(t, 0, ops.Baseline)
	assert.GreaterOrEqual(t, ops.Confidence, 0.5)
	assert.Equal(t, 6, a.Failures[SectorOps])

	require.Len(t, a.Rules, 1)
	r := a.Rules[0]
	assert.Equal(t, "rule_ops_integrity", r.ID)
	assert.Equal(t, SectorOps, r.Sector)
	assert.Equal(t, TrendEmerging, r.Trend)
	assert.InDelta(t, 0.5+0.5/15, r.Confidence, 1e-9)
	assert.True(t, r.ExpiresAt.Equal(testNow.Add(7*24*time.Hour)))
	assert.False(t, r.Expired(testNow))
	assert.Equal(t, 0, r.ReinforcedCount)

	rules, err := e.Rules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	snap, err := e.LastAnalysis()
	require.NoError(t, err)
	assert.Equal(t, 6, snap.Failures[SectorOps])
}

func TestAnalyze_BelowMinSampleCreatesNoRule(t *testing.T) {
	e := newTestEngine(t)
	recordOpsErrors(t, e, 4, time.Hour)

	a, err := e.Analyze(context.Background())
	require.NoError(t, err)
	assert.Empty(t, a.Rules)
	assert.Zero(t, a.Trends[SectorOps].Confidence)
}

func TestAnalyze_ReinforcesInPlace(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	recordOpsErrors(t, e, 6, time.Hour)

	first, err := e.Analyze(ctx)
	require.NoError(t, err)
	firstSeen := first.Rules[0].FirstSeenAt

	later := testNow.Add(48 * time.Hour)
	e.now = func() time.Time { return later }
	recordOpsErrors(t, e, 6, time.Hour)

	second, err := e.Analyze(ctx)
	require.NoError(t, err)
	require.Len(t, second.Rules, 1)
	r := second.Rules[0]
	assert.Equal(t, 1, r.ReinforcedCount)
	assert.Equal(t, 1, second.Reinforced)
	assert.True(t, r.FirstSeenAt.Equal(firstSeen))
	assert.True(t, r.ExpiresAt.Equal(later.Add(7*24*time.Hour)))
	assert.Equal(t, 12, r.SampleSize)
}

func TestAnalyze_PrunesExpiredWithoutNewFailures(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	require.NoError(t, fsutil.WriteJSONAtomic(e.RulesPath(), []Rule{
		{ID: "rule_seo_pressure", Sector: SectorSEO, Confidence: 0.9, Trend: TrendStable, ExpiresAt: testNow.Add(-time.Minute)},
		{ID: "rule_ads_cost", Sector: SectorAds, Confidence: 0.7, Trend: TrendIncreasing, ExpiresAt: testNow.Add(time.Hour)},
	}))

	seo, err := e.Instructions(ctx, SectorSEO, 0)
	require.NoError(t, err)
	assert.Empty(t, seo, "expired rules are never returned")

	a, err := e.Analyze(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Pruned)
	require.Len(t, a.Rules, 1)
	assert.Equal(t, "rule_ads_cost", a.Rules[0].ID)

	data, err := os.ReadFile(e.RulesPath())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "rule_seo_pressure")
}

func TestAnalyze_TrendAgainstBaseline(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	// Baseline: 6 seo failures over the prior 6 days, 1 per day.
	for d := 1; d <= 6; d++ {
		require.NoError(t, e.Record(ctx, Event{Timestamp: testNow.Add(-time.Duration(d)*24*time.Hour - time.Hour), SEOPressure: Float(85)}))
	}
	// Recent: 3 in the last day, three times the baseline rate.
	for i := 0; i < 3; i++ {
		require.NoError(t, e.Record(ctx, Event{Timestamp: testNow.Add(-time.Duration(i+1) * time.Hour), SEOPressure: Float(71)}))
	}
	// Too old to count.
	require.NoError(t, e.Record(ctx, Event{Timestamp: testNow.Add(-10 * 24 * time.Hour), SEOPressure: Float(99)}))
	// Not a failure.
	require.NoError(t, e.Record(ctx, Event{Timestamp: testNow.Add(-time.Hour), SEOPressure: Float(70)}))

	a, err := e.Analyze(ctx)
	require.NoError(t, err)
	seo := a.Trends[SectorSEO]
	assert.Equal(t, 3, seo.Recent)
	assert.Equal(t, 6, seo.Baseline)
	assert.InDelta(t, 3.0, seo.Ratio, 1e-9)
	assert.Equal(t, TrendIncreasing, seo.Trend)

	require.Len(t, a.Rules, 1)
	assert.True(t, strings.HasPrefix(a.Rules[0].Instruction, "URGENT:"))

	instr, err := e.Instructions(ctx, SectorSEO, 0.5)
	require.NoError(t, err)
	require.Len(t, instr, 1)
	assert.True(t, strings.HasPrefix(instr[0], "⚠️ URGENT:"))
}

func TestAnalyze_SkipsCorruptEvents(t *testing.T) {
	e := newTestEngine(t)
	recordOpsErrors(t, e, 5, time.Hour)
	require.NoError(t, fsutil.AppendLine(e.EventsPath(), []byte("garbage")))
	require.NoError(t, fsutil.AppendLine(e.EventsPath(), []byte(`{"status":"error"}`)))

	a, err := e.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, a.Events)
	assert.Len(t, a.Rules, 1)
}

func TestInstructions_FiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	future := testNow.Add(time.Hour)
	require.NoError(t, fsutil.WriteJSONAtomic(e.RulesPath(), []Rule{
		{ID: "a", Sector: SectorVoice, Instruction: "low", Confidence: 0.55, Trend: TrendStable, ExpiresAt: future},
		{ID: "b", Sector: SectorVoice, Instruction: "high", Confidence: 0.95, Trend: TrendSlightIncrease, ExpiresAt: future},
		{ID: "c", Sector: SectorVoice, Instruction: "below", Confidence: 0.4, Trend: TrendStable, ExpiresAt: future},
		{ID: "d", Sector: SectorAds, Instruction: "other sector", Confidence: 1, Trend: TrendStable, ExpiresAt: future},
		{ID: "e", Sector: SectorVoice, Instruction: "falling", Confidence: 0.7, Trend: TrendDecreasing, ExpiresAt: future},
	}))

	got, err := e.Instructions(ctx, SectorVoice, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []string{"⚠️ high", "falling", "low"}, got)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want []Sector
	}{
		{"seo above threshold", Event{SEOPressure: Float(70.5)}, []Sector{SectorSEO}},
		{"seo at threshold", Event{SEOPressure: Float(70)}, nil},
		{"ops error status", Event{Status: "error"}, []Sector{SectorOps}},
		{"ops pressure", Event{SystemPressure: Float(81)}, []Sector{SectorOps}},
		{"voice low qualification", Event{QualificationScore: Float(12)}, []Sector{SectorVoice}},
		{"voice zero qualification", Event{QualificationScore: Float(0)}, []Sector{SectorVoice}},
		{"voice absent score", Event{}, nil},
		{"ads overrun", Event{Cost: Float(16), TargetCost: Float(10)}, []Sector{SectorAds}},
		{"ads at factor", Event{Cost: Float(15), TargetCost: Float(10)}, nil},
		{"ads zero target", Event{Cost: Float(15), TargetCost: Float(0)}, nil},
		{"several", Event{Status: "error", SEOPressure: Float(90)}, []Sector{SectorSEO, SectorOps}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.ev))
		})
	}
}
