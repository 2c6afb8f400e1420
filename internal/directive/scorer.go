package directive

import (
	"strings"
	"unicode"
)

// Scorer rates how well a tool matches a directive. Zero means no match.
type Scorer interface {
	Score(directive string, tool Tool) int
}

// Keyword scoring weights.
const (
	keywordWeight     = 10
	descriptionWeight = 3
	nameWeight        = 1

	minDescriptionWord = 4
)

// KeywordScorer scores by lexical overlap: whole-word domain keywords
// count most, description words found anywhere in the directive next,
// and name tokens least.
type KeywordScorer struct{}

// Score implements Scorer.
func (KeywordScorer) Score(directive string, tool Tool) int {
	lower := strings.ToLower(directive)
	words := tokenize(lower)
	padded := " " + strings.Join(words, " ") + " "
	wordSet := make(map[string]bool, len(words))
	for _, w := range words {
		wordSet[w] = true
	}

	score := 0
	for _, kw := range tool.Keywords {
		kw = strings.Join(tokenize(strings.ToLower(kw)), " ")
		if kw != "" && strings.Contains(padded, " "+kw+" ") {
			score += keywordWeight
		}
	}
	for _, w := range tokenize(strings.ToLower(tool.Description)) {
		if len(w) >= minDescriptionWord && strings.Contains(lower, w) {
			score += descriptionWeight
		}
	}
	for _, w := range tokenize(strings.ToLower(tool.Name)) {
		if wordSet[w] {
			score += nameWeight
		}
	}
	return score
}

// tokenize splits s on anything that is not a letter, digit or hyphen.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
}
