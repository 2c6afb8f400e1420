package knowledge

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"

	"github.com/fyrsmithlabs/opsloop/internal/extraction"
	"github.com/fyrsmithlabs/opsloop/internal/validation"
)

// LearnedPrefix prefixes the id of every chunk created from a fact.
const LearnedPrefix = "learned_"

// ChunkSource records where a learned chunk came from.
type ChunkSource struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	Pattern   string    `json:"pattern"`
	Timestamp time.Time `json:"timestamp"`
}

// ChunkMetadata carries the review trail of a learned chunk.
type ChunkMetadata struct {
	Confidence float64   `json:"confidence"`
	FactType   string    `json:"factType"`
	LearnedAt  time.Time `json:"learnedAt"`
	ReviewedBy string    `json:"reviewedBy,omitempty"`
	OriginalID string    `json:"originalId"`
}

// Chunk is one knowledge base entry. Chunks decoded from disk re-encode
// to their original bytes, so chunks authored elsewhere survive rewrites
// and rollbacks unchanged.
type Chunk struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Text     string         `json:"text"`
	Source   *ChunkSource   `json:"source,omitempty"`
	Metadata *ChunkMetadata `json:"metadata,omitempty"`
	TenantID string         `json:"tenant_id,omitempty"`
	Keywords []string       `json:"keywords,omitempty"`

	raw json.RawMessage
}

type chunkAlias Chunk

// UnmarshalJSON decodes the known fields and keeps the raw bytes.
func (c *Chunk) UnmarshalJSON(data []byte) error {
	var a chunkAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = Chunk(a)
	c.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns the original bytes for decoded chunks.
func (c Chunk) MarshalJSON() ([]byte, error) {
	if c.raw != nil {
		return c.raw, nil
	}
	return json.Marshal(chunkAlias(c))
}

// OriginalID returns the fact id a learned chunk was built from.
func (c Chunk) OriginalID() string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata.OriginalID
}

// IsLearned reports whether the chunk was produced by the injector.
func (c Chunk) IsLearned() bool {
	return strings.HasPrefix(c.ID, LearnedPrefix)
}

// chunkTypes maps fact types to knowledge base chunk types.
var chunkTypes = map[extraction.FactType]string{
	extraction.TypeGap:            "knowledge_gap",
	extraction.TypeCorrection:     "correction",
	extraction.TypeFAQ:            "faq",
	extraction.TypeFeatureRequest: "product_feedback",
	extraction.TypeInsight:        "customer_insight",
}

var titlePrefixes = map[extraction.FactType]string{
	extraction.TypeGap:            "Missing answer",
	extraction.TypeCorrection:     "Correction",
	extraction.TypeFAQ:            "FAQ",
	extraction.TypeFeatureRequest: "Feature request",
	extraction.TypeInsight:        "Customer insight",
}

// ChunkFromEntry maps one reviewed queue entry to exactly one chunk.
func ChunkFromEntry(e validation.Entry, tenantID string, now time.Time) Chunk {
	chunkType, ok := chunkTypes[e.Type]
	if !ok {
		chunkType = string(e.Type)
	}
	prefix, ok := titlePrefixes[e.Type]
	if !ok {
		prefix = string(e.Type)
	}

	question := oneLine(e.UserMessage)
	fact := e.Fact()

	var text string
	switch e.Type {
	case extraction.TypeGap, extraction.TypeFAQ:
		text = "Question: " + question + "\nAnswer: " + fact
	case extraction.TypeCorrection:
		text = "Correction: " + fact + "\nContext: " + question
	default:
		text = fact + "\nContext: " + question
	}

	return Chunk{
		ID:    LearnedPrefix + e.ID,
		Type:  chunkType,
		Title: prefix + ": " + extraction.Truncate(question, 80),
		Text:  text,
		Source: &ChunkSource{
			Type:      "conversation",
			SessionID: e.Source.SessionID,
			Pattern:   e.Pattern,
			Timestamp: e.Source.Timestamp,
		},
		Metadata: &ChunkMetadata{
			Confidence: e.Confidence,
			FactType:   string(e.Type),
			LearnedAt:  now,
			ReviewedBy: e.ReviewedBy,
			OriginalID: e.ID,
		},
		TenantID: tenantID,
		Keywords: Keywords(question+" "+fact, maxKeywords),
	}
}

const (
	maxKeywords   = 10
	minKeywordLen = 4
)

var stopWords = map[string]bool{
	// en
	"about": true, "after": true, "again": true, "also": true, "been": true, "could": true,
	"does": true, "from": true, "have": true, "into": true, "just": true, "more": true,
	"only": true, "other": true, "should": true, "some": true, "than": true, "that": true,
	"their": true, "them": true, "then": true, "there": true, "these": true, "they": true,
	"this": true, "what": true, "when": true, "where": true, "which": true, "will": true,
	"with": true, "would": true, "your": true, "answer": true, "question": true,
	// fr
	"avec": true, "aussi": true, "avez": true, "cela": true, "cette": true, "comme": true,
	"dans": true, "donc": true, "elle": true, "est-ce": true, "être": true, "fait": true,
	"leur": true, "mais": true, "même": true, "nous": true, "pour": true, "quand": true,
	"quel": true, "quelle": true, "sans": true, "sont": true, "tout": true, "très": true,
	"vous": true, "votre": true, "vos": true,
}

// Keywords extracts up to limit distinct lowercase words from text,
// skipping short words and stop words.
func Keywords(text string, limit int) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	seen := make(map[string]bool)
	out := []string{}
	for _, w := range words {
		w = strings.Trim(w, "-")
		if len([]rune(w)) < minKeywordLen || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) == limit {
			break
		}
	}
	return out
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
