package extraction

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/fyrsmithlabs/opsloop/internal/session"
)

// compiledFamily holds a family with pre-compiled indicators.
type compiledFamily struct {
	Family
	indicators []compiledIndicator
}

type compiledIndicator struct {
	Indicator
	regex *regexp.Regexp
}

// Extractor finds candidate facts in session history.
type Extractor struct {
	families []compiledFamily
	now      func() time.Time
}

// NewExtractor compiles families. A nil or empty table selects
// DefaultFamilies. Invalid expressions are reported, not skipped.
func NewExtractor(families []Family) (*Extractor, error) {
	if len(families) == 0 {
		families = DefaultFamilies()
	}

	compiled := make([]compiledFamily, 0, len(families))
	for _, fam := range families {
		if fam.Confidence < 0 || fam.Confidence > 1 {
			return nil, fmt.Errorf("family %s: confidence %v outside [0,1]", fam.Type, fam.Confidence)
		}
		cf := compiledFamily{Family: fam}
		for _, ind := range fam.Indicators {
			re, err := regexp.Compile(ind.Regex)
			if err != nil {
				return nil, fmt.Errorf("family %s indicator %s: %w", fam.Type, ind.Name, err)
			}
			if ind.Target == "" {
				ind.Target = TargetUser
			}
			cf.indicators = append(cf.indicators, compiledIndicator{Indicator: ind, regex: re})
		}
		compiled = append(compiled, cf)
	}

	return &Extractor{families: compiled, now: time.Now}, nil
}

// turn is one (user, response) pair.
type turn struct {
	index     int
	user      session.HistoryEntry
	response  session.HistoryEntry
	timestamp time.Time
}

// Extract returns deduplicated candidate facts for rec. Records with
// fewer than two history entries yield nothing.
func (e *Extractor) Extract(rec *session.ContextRecord) []CandidateFact {
	if rec == nil || len(rec.History) < 2 {
		return []CandidateFact{}
	}

	now := e.now()
	var facts []CandidateFact
	for _, t := range pairTurns(rec.History) {
		userText := t.user.Text()
		respText := t.response.Text()
		if userText == "" {
			continue
		}

		for _, fam := range e.families {
			ind, ok := fam.match(userText, respText)
			if !ok {
				continue
			}
			facts = append(facts, CandidateFact{
				ID:      NewFactID(now),
				Type:    fam.Type,
				Pattern: ind.Name,
				Source: Source{
					SessionID:    rec.SessionID,
					MessageIndex: t.index,
					Timestamp:    t.timestamp,
				},
				UserMessage:   Truncate(userText, MaxExcerptLength),
				AIResponse:    Truncate(respText, MaxExcerptLength),
				ExtractedFact: Summarize(fam.Type, userText),
				Confidence:    fam.Confidence,
				Status:        StatusPending,
				CreatedAt:     now,
			})
		}
	}

	return Dedupe(facts)
}

// ExtractSession loads id from store and extracts from it.
func (e *Extractor) ExtractSession(ctx context.Context, store *session.Store, id string) []CandidateFact {
	return e.Extract(store.Get(ctx, id))
}

// match returns the first indicator of the family that fires.
func (f compiledFamily) match(userText, respText string) (Indicator, bool) {
	for _, ind := range f.indicators {
		text := userText
		if ind.Target == TargetResponse {
			text = respText
		}
		if text != "" && ind.regex.MatchString(text) {
			return ind.Indicator, true
		}
	}
	return Indicator{}, false
}

// pairTurns walks history and pairs each user turn with the next
// non-user entry.
func pairTurns(history []session.HistoryEntry) []turn {
	var turns []turn
	for i := 0; i < len(history)-1; i++ {
		if !history[i].IsUserTurn() {
			continue
		}
		next := history[i+1]
		if next.IsUserTurn() {
			continue
		}
		turns = append(turns, turn{
			index:     i,
			user:      history[i],
			response:  next,
			timestamp: history[i].Timestamp,
		})
	}
	return turns
}

// Summarize builds the one-line human-readable summary of a fact.
func Summarize(t FactType, userText string) string {
	excerpt := strings.Join(strings.Fields(Truncate(userText, 120)), " ")
	switch t {
	case TypeGap:
		return fmt.Sprintf("Knowledge gap: the assistant could not answer %q", excerpt)
	case TypeCorrection:
		return fmt.Sprintf("User correction: %q", excerpt)
	case TypeFAQ:
		return fmt.Sprintf("Frequently asked: %q", excerpt)
	case TypeFeatureRequest:
		return fmt.Sprintf("Feature request: %q", excerpt)
	case TypeInsight:
		return fmt.Sprintf("Customer insight: %q", excerpt)
	default:
		return fmt.Sprintf("%s: %q", t, excerpt)
	}
}
