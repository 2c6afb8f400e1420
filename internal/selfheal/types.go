package selfheal

import (
	"time"
)

// Sector is a failure domain.
type Sector string

const (
	SectorSEO   Sector = "seo"
	SectorOps   Sector = "ops"
	SectorVoice Sector = "voice"
	SectorAds   Sector = "ads"
)

// Sectors returns every sector in a stable order.
func Sectors() []Sector {
	return []Sector{SectorSEO, SectorOps, SectorVoice, SectorAds}
}

// Trend classifies the recent failure rate against the baseline.
type Trend string

const (
	TrendEmerging       Trend = "EMERGING"
	TrendIncreasing     Trend = "INCREASING"
	TrendSlightIncrease Trend = "SLIGHT_INCREASE"
	TrendStable         Trend = "STABLE"
	TrendSlightDecrease Trend = "SLIGHT_DECREASE"
	TrendDecreasing     Trend = "DECREASING"
)

// Rising reports whether the trend calls for a warning.
func (t Trend) Rising() bool {
	return t == TrendIncreasing || t == TrendSlightIncrease || t == TrendEmerging
}

// Classification thresholds.
const (
	SEOPressureThreshold    = 70
	SystemPressureThreshold = 80
	QualificationThreshold  = 30
	CostOverrunFactor       = 1.5

	StatusError = "error"
)

// Event is one line of the operational event log. Numeric signals are
// pointers so that an absent value never classifies.
type Event struct {
	Timestamp          time.Time      `json:"timestamp"`
	Source             string         `json:"source,omitempty"`
	Status             string         `json:"status,omitempty"`
	SEOPressure        *float64       `json:"seo_pressure,omitempty"`
	SystemPressure     *float64       `json:"system_pressure,omitempty"`
	QualificationScore *float64       `json:"qualification_score,omitempty"`
	Cost               *float64       `json:"cost,omitempty"`
	TargetCost         *float64       `json:"target_cost,omitempty"`
	Message            string         `json:"message,omitempty"`
	Details            map[string]any `json:"details,omitempty"`
}

// Float returns a pointer to v, for building events.
func Float(v float64) *float64 {
	return &v
}

// Classify returns the sectors whose failure predicate e satisfies.
func Classify(e Event) []Sector {
	var out []Sector
	if e.SEOPressure != nil && *e.SEOPressure > SEOPressureThreshold {
		out = append(out, SectorSEO)
	}
	if e.Status == StatusError || (e.SystemPressure != nil && *e.SystemPressure > SystemPressureThreshold) {
		out = append(out, SectorOps)
	}
	if e.QualificationScore != nil && *e.QualificationScore < QualificationThreshold {
		out = append(out, SectorVoice)
	}
	if e.Cost != nil && e.TargetCost != nil && *e.TargetCost > 0 && *e.Cost > CostOverrunFactor**e.TargetCost {
		out = append(out, SectorAds)
	}
	return out
}

// Rule is a self-decaying behavioral instruction for one sector.
type Rule struct {
	ID              string    `json:"id"`
	Sector          Sector    `json:"sector"`
	Instruction     string    `json:"instruction"`
	Weight          float64   `json:"weight"`
	Confidence      float64   `json:"confidence"`
	Trend           Trend     `json:"trend"`
	SampleSize      int       `json:"sample_size"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	ReinforcedCount int       `json:"reinforced_count"`
	FirstSeenAt     time.Time `json:"first_seen_at"`
}

// Expired reports whether the rule is past its expiry at now.
func (r Rule) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// SectorTrend is the window analysis of one sector.
type SectorTrend struct {
	Recent       int     `json:"recent"`
	Baseline     int     `json:"baseline"`
	RecentRate   float64 `json:"recent_rate_per_day"`
	BaselineRate float64 `json:"baseline_rate_per_day"`
	Ratio        float64 `json:"ratio,omitempty"`
	Trend        Trend   `json:"trend"`
	SampleSize   int     `json:"sample_size"`
	Confidence   float64 `json:"confidence"`
}

// Analysis is the outcome of one Analyze run. It is also the metrics
// snapshot written to disk.
type Analysis struct {
	AnalyzedAt time.Time              `json:"analyzed_at"`
	Events     int                    `json:"events"`
	Failures   map[Sector]int         `json:"failures"`
	Trends     map[Sector]SectorTrend `json:"trends"`
	Added      int                    `json:"added"`
	Reinforced int                    `json:"reinforced"`
	Pruned     int                    `json:"pruned"`
	Rules      []Rule                 `json:"rules"`
}
