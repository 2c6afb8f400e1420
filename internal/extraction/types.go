package extraction

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// FactType classifies a candidate fact.
type FactType string

const (
	TypeGap            FactType = "gap"
	TypeCorrection     FactType = "correction"
	TypeFAQ            FactType = "faq"
	TypeFeatureRequest FactType = "feature_request"
	TypeInsight        FactType = "insight"
)

// AllTypes returns the fact types in table order.
func AllTypes() []FactType {
	return []FactType{TypeGap, TypeCorrection, TypeFAQ, TypeFeatureRequest, TypeInsight}
}

// Fact review statuses. Reviewers may assign other values too.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusModified = "modified"
)

const (
	// MaxExcerptLength bounds userMessage and aiResponse, in characters.
	MaxExcerptLength = 500

	// DedupPrefixLength is the number of user-text characters in the
	// deduplication key.
	DedupPrefixLength = 50
)

// Target selects which side of a turn an indicator is tested against.
type Target string

const (
	TargetUser     Target = "user"
	TargetResponse Target = "response"
)

// Indicator is one regular expression that signals a fact family.
type Indicator struct {
	Name   string `json:"name" yaml:"name"`
	Regex  string `json:"regex" yaml:"regex"`
	Target Target `json:"target" yaml:"target"`
}

// Family groups the indicators of one fact type with its static
// confidence.
type Family struct {
	Type       FactType    `json:"type" yaml:"type"`
	Confidence float64     `json:"confidence" yaml:"confidence"`
	Indicators []Indicator `json:"indicators" yaml:"indicators"`
}

// Source records where a fact was observed.
type Source struct {
	SessionID    string    `json:"sessionId"`
	MessageIndex int       `json:"messageIndex"`
	Timestamp    time.Time `json:"timestamp"`
}

// CandidateFact is an unverified piece of knowledge awaiting review.
type CandidateFact struct {
	ID            string    `json:"id"`
	Type          FactType  `json:"type"`
	Pattern       string    `json:"pattern"`
	Source        Source    `json:"source"`
	UserMessage   string    `json:"userMessage"`
	AIResponse    string    `json:"aiResponse"`
	ExtractedFact string    `json:"extractedFact"`
	Confidence    float64   `json:"confidence"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

// DedupKey returns the (type, first 50 chars of user text) key.
func (f CandidateFact) DedupKey() string {
	return string(f.Type) + "|" + Truncate(strings.TrimSpace(f.UserMessage), DedupPrefixLength)
}

// NewFactID returns "fact_<unix millis>_<8 random hex>".
func NewFactID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "fact_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + suffix
}

// Truncate returns at most n characters of s without splitting a rune.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// Dedupe keeps the first fact per DedupKey, preserving order.
func Dedupe(facts []CandidateFact) []CandidateFact {
	seen := make(map[string]bool, len(facts))
	out := make([]CandidateFact, 0, len(facts))
	for _, f := range facts {
		key := f.DedupKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}
