package secrets

import (
	"fmt"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// gitleaksScanner runs the gitleaks default ruleset. The detector is
// not safe for concurrent use.
type gitleaksScanner struct {
	mu       sync.Mutex
	detector *detect.Detector
}

func newGitleaksScanner() (*gitleaksScanner, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	return &gitleaksScanner{detector: d}, nil
}

// scan locates every occurrence of each detected secret in s.
func (g *gitleaksScanner) scan(s string) []Finding {
	g.mu.Lock()
	found := g.detector.DetectString(s)
	g.mu.Unlock()

	var out []Finding
	seen := make(map[string]bool)
	for _, f := range found {
		if f.Secret == "" || seen[f.Secret] {
			continue
		}
		seen[f.Secret] = true
		for from := 0; ; {
			i := strings.Index(s[from:], f.Secret)
			if i < 0 {
				break
			}
			start := from + i
			out = append(out, Finding{
				Rule:  "gitleaks:" + f.RuleID,
				Start: start,
				End:   start + len(f.Secret),
				Line:  strings.Count(s[:start], "\n") + 1,
			})
			from = start + len(f.Secret)
		}
	}
	return out
}
