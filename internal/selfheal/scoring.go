package selfheal

import (
	"time"
)

// Trend ratio buckets.
const (
	increasingRatio     = 1.5
	slightIncreaseRatio = 1.1
	decreasingRatio     = 0.5
	slightDecreaseRatio = 0.9
	minRuleConfidence   = 0.5
	hoursPerDay         = 24.0
)

// ComputeTrend compares per-day rates of the recent window and the
// baseline span. A zero baseline count, or a baseline span that is not
// positive, yields EMERGING when recent failures exist and STABLE
// otherwise.
func ComputeTrend(recent, baseline int, recentWindow, baselineSpan time.Duration) SectorTrend {
	st := SectorTrend{Recent: recent, Baseline: baseline}
	if recentWindow > 0 {
		st.RecentRate = float64(recent) / (recentWindow.Hours() / hoursPerDay)
	}
	if baselineSpan > 0 {
		st.BaselineRate = float64(baseline) / (baselineSpan.Hours() / hoursPerDay)
	}

	if baseline == 0 || st.BaselineRate == 0 {
		if recent > 0 {
			st.Trend = TrendEmerging
		} else {
			st.Trend = TrendStable
		}
		return st
	}

	st.Ratio = st.RecentRate / st.BaselineRate
	switch {
	case st.Ratio > increasingRatio:
		st.Trend = TrendIncreasing
	case st.Ratio > slightIncreaseRatio:
		st.Trend = TrendSlightIncrease
	case st.Ratio < decreasingRatio:
		st.Trend = TrendDecreasing
	case st.Ratio < slightDecreaseRatio:
		st.Trend = TrendSlightDecrease
	default:
		st.Trend = TrendStable
	}
	return st
}

// Confidence maps a sample size onto [0,1]: zero below minSample, a
// linear ramp from 0.5 at minSample to 1.0 at highSample, and 1.0 above.
func Confidence(n, minSample, highSample int) float64 {
	if n < minSample {
		return 0
	}
	if n >= highSample || highSample <= minSample {
		return 1
	}
	return 0.5 + 0.5*float64(n-minSample)/float64(highSample-minSample)
}
