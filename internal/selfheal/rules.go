package selfheal

import (
	"sort"
	"time"
)

// RuleID returns the fixed rule id of a sector.
func RuleID(s Sector) string {
	switch s {
	case SectorSEO:
		return "rule_seo_pressure"
	case SectorOps:
		return "rule_ops_integrity"
	case SectorVoice:
		return "rule_voice_qualification"
	case SectorAds:
		return "rule_ads_cost"
	default:
		return "rule_" + string(s)
	}
}

var baseInstructions = map[Sector]string{
	SectorSEO:   "Before publishing, check that titles, meta descriptions and headings target the page keyword and that no page exceeds the SEO pressure budget.",
	SectorOps:   "Verify that every automation dependency is reachable before launching a run and stop at the first error instead of retrying blindly.",
	SectorVoice: "Qualify callers earlier: confirm need, budget and timeline in the first exchanges before pitching an offer.",
	SectorAds:   "Pause or cap bids on campaigns whose cost exceeds 1.5x the target cost and move budget to campaigns within target.",
}

// Instruction returns the sector instruction worded for trend.
func Instruction(s Sector, t Trend) string {
	base, ok := baseInstructions[s]
	if !ok {
		base = "Review recent " + string(s) + " failures before acting."
	}
	switch t {
	case TrendIncreasing:
		return "URGENT: " + base + " Failures are rising sharply."
	case TrendSlightIncrease:
		return base + " Failures are rising."
	case TrendEmerging:
		return base + " This failure pattern is new."
	case TrendSlightDecrease, TrendDecreasing:
		return base + " Failures are receding; keep the current safeguards."
	default:
		return base
	}
}

// buildRule creates the fresh rule for a sector analysis.
func buildRule(s Sector, st SectorTrend, now time.Time, ttl time.Duration) Rule {
	return Rule{
		ID:          RuleID(s),
		Sector:      s,
		Instruction: Instruction(s, st.Trend),
		Weight:      st.Confidence,
		Confidence:  st.Confidence,
		Trend:       st.Trend,
		SampleSize:  st.SampleSize,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		FirstSeenAt: now,
	}
}

// mergeResult counts what mergeRules changed.
type mergeResult struct {
	added, reinforced, pruned int
}

// mergeRules drops expired rules, then reinforces same-id rules in place
// and adds new ones whose confidence reaches the rule floor.
func mergeRules(existing, fresh []Rule, now time.Time) ([]Rule, mergeResult) {
	var res mergeResult
	live := make([]Rule, 0, len(existing)+len(fresh))
	index := make(map[string]int, len(existing))
	for _, r := range existing {
		if r.Expired(now) {
			res.pruned++
			continue
		}
		index[r.ID] = len(live)
		live = append(live, r)
	}

	for _, r := range fresh {
		if i, ok := index[r.ID]; ok {
			prev := live[i]
			r.ReinforcedCount = prev.ReinforcedCount + 1
			r.FirstSeenAt = prev.FirstSeenAt
			if r.FirstSeenAt.IsZero() {
				r.FirstSeenAt = prev.CreatedAt
			}
			live[i] = r
			res.reinforced++
			continue
		}
		if r.Confidence < minRuleConfidence {
			continue
		}
		index[r.ID] = len(live)
		live = append(live, r)
		res.added++
	}
	return live, res
}

// sortByConfidence orders rules by descending confidence, then id.
func sortByConfidence(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Confidence != rules[j].Confidence {
			return rules[i].Confidence > rules[j].Confidence
		}
		return rules[i].ID < rules[j].ID
	})
}
