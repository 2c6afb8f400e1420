package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/opsloop/internal/config"
)

// Finding locates one detected credential. The matched value is not
// kept.
type Finding struct {
	Rule  string `json:"rule"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Line  int    `json:"line"`
}

type compiledRule struct {
	id       string
	re       *regexp.Regexp
	keywords []string
}

// Redactor replaces credentials in text. A nil or disabled Redactor
// returns its input unchanged. It is safe for concurrent use.
type Redactor struct {
	rules       []compiledRule
	allow       []*regexp.Regexp
	replacement string
	disabled    bool
	gitleaks    *gitleaksScanner
}

// New builds a Redactor with DefaultRules.
func New(cfg config.RedactionConfig) (*Redactor, error) {
	return NewWithRules(cfg, DefaultRules())
}

// NewWithRules builds a Redactor from explicit rules.
func NewWithRules(cfg config.RedactionConfig, rules []Rule) (*Redactor, error) {
	r := &Redactor{
		replacement: cfg.Replacement,
		disabled:    cfg.Disabled,
	}
	if r.replacement == "" {
		r.replacement = "[REDACTED]"
	}
	for i, rule := range rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("redaction rule %d: id is required", i)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("redaction rule %s: %w", rule.ID, err)
		}
		kws := make([]string, 0, len(rule.Keywords))
		for _, kw := range rule.Keywords {
			kws = append(kws, strings.ToLower(kw))
		}
		r.rules = append(r.rules, compiledRule{id: rule.ID, re: re, keywords: kws})
	}
	for i, pattern := range cfg.AllowList {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("redaction allow_list %d: %w", i, err)
		}
		r.allow = append(r.allow, re)
	}
	extra, err := LoadAllowlist(cfg.AllowlistFile)
	if err != nil {
		return nil, err
	}
	for _, pattern := range extra {
		r.allow = append(r.allow, regexp.MustCompile(pattern))
	}
	if cfg.Gitleaks && !cfg.Disabled {
		g, err := newGitleaksScanner()
		if err != nil {
			return nil, err
		}
		r.gitleaks = g
	}
	return r, nil
}

// Enabled reports whether Redact changes anything.
func (r *Redactor) Enabled() bool {
	return r != nil && !r.disabled
}

// Scan returns the credentials found in s ordered by position.
func (r *Redactor) Scan(s string) []Finding {
	if !r.Enabled() || s == "" {
		return nil
	}
	lower := strings.ToLower(s)
	var out []Finding
	for _, rule := range r.rules {
		if !hasKeyword(lower, rule.keywords) {
			continue
		}
		for _, m := range rule.re.FindAllStringIndex(s, -1) {
			if r.allowed(s[m[0]:m[1]]) {
				continue
			}
			out = append(out, Finding{
				Rule:  rule.id,
				Start: m[0],
				End:   m[1],
				Line:  strings.Count(s[:m[0]], "\n") + 1,
			})
		}
	}
	if r.gitleaks != nil {
		for _, f := range r.gitleaks.scan(s) {
			if !r.allowed(s[f.Start:f.End]) {
				out = append(out, f)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Redact replaces every finding in s. Overlapping findings collapse
// into one replacement.
func (r *Redactor) Redact(s string) string {
	findings := r.Scan(s)
	if len(findings) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	pos := 0
	for _, f := range findings {
		Redactions.WithLabelValues(f.Rule).Inc()
		if f.End <= pos {
			continue
		}
		if f.Start >= pos {
			b.WriteString(s[pos:f.Start])
			b.WriteString(r.replacement)
		}
		pos = f.End
	}
	b.WriteString(s[pos:])
	return b.String()
}

// RedactDetails returns a copy of details with every string value
// redacted, descending into nested maps and slices.
func (r *Redactor) RedactDetails(details map[string]any) map[string]any {
	if !r.Enabled() || details == nil {
		return details
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		out[k] = r.redactValue(v)
	}
	return out
}

func (r *Redactor) redactValue(v any) any {
	switch t := v.(type) {
	case string:
		return r.Redact(t)
	case map[string]any:
		return r.RedactDetails(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = r.redactValue(e)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, e := range t {
			out[i] = r.Redact(e)
		}
		return out
	default:
		return v
	}
}

func (r *Redactor) allowed(match string) bool {
	for _, re := range r.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

func hasKeyword(lower string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
