package selfheal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeTrend(t *testing.T) {
	day := 24 * time.Hour
	span := 6 * day

	tests := []struct {
		name     string
		recent   int
		baseline int
		want     Trend
	}{
		{"no failures", 0, 0, TrendStable},
		{"emerging", 3, 0, TrendEmerging},
		{"increasing", 4, 12, TrendIncreasing},
		{"slight increase", 5, 24, TrendSlightIncrease},
		{"stable", 4, 24, TrendStable},
		{"slight decrease", 3, 24, TrendSlightDecrease},
		{"decreasing", 1, 24, TrendDecreasing},
		{"gone quiet", 0, 6, TrendDecreasing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeTrend(tt.recent, tt.baseline, day, span).Trend)
		})
	}
}

func TestComputeTrend_DegenerateBaselineSpan(t *testing.T) {
	assert.Equal(t, TrendEmerging, ComputeTrend(2, 5, 24*time.Hour, 0).Trend)
	assert.Equal(t, TrendStable, ComputeTrend(0, 5, 24*time.Hour, -time.Hour).Trend)
}

func TestConfidence(t *testing.T) {
	assert.Zero(t, Confidence(0, 5, 20))
	assert.Zero(t, Confidence(4, 5, 20))
	assert.Equal(t, 0.5, Confidence(5, 5, 20))
	assert.InDelta(t, 0.75, Confidence(12, 5, 19), 1e-9)
	assert.Equal(t, 1.0, Confidence(20, 5, 20))
	assert.Equal(t, 1.0, Confidence(500, 5, 20))
}

func TestConfidence_Monotonic(t *testing.T) {
	prev := -1.0
	for n := 0; n <= 40; n++ {
		c := Confidence(n, 5, 20)
		assert.GreaterOrEqual(t, c, prev, "n=%d", n)
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, 1.0)
		prev = c
	}
}

func TestInstruction(t *testing.T) {
	assert.True(t, len(Instruction(SectorAds, TrendStable)) > 0)
	assert.Contains(t, Instruction(SectorOps, TrendIncreasing), "URGENT: ")
	assert.NotContains(t, Instruction(SectorOps, TrendSlightIncrease), "URGENT")
	assert.Equal(t, "rule_voice_qualification", RuleID(SectorVoice))
}

func TestMergeRules_LowConfidenceNotAdded(t *testing.T) {
	now := time.Now()
	merged, res := mergeRules(nil, []Rule{{ID: "x", Confidence: 0.3, ExpiresAt: now.Add(time.Hour)}}, now)
	assert.Empty(t, merged)
	assert.Zero(t, res.added)
}
