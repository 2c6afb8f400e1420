package validation

import (
	"time"

	"github.com/fyrsmithlabs/opsloop/internal/extraction"
)

// Entry is one queued candidate fact plus its review metadata.
type Entry struct {
	extraction.CandidateFact

	ReviewedAt   *time.Time `json:"reviewedAt,omitempty"`
	ReviewedBy   string     `json:"reviewedBy,omitempty"`
	ModifiedFact string     `json:"modifiedFact,omitempty"`
	InjectedToKB bool       `json:"injectedToKB"`
	InjectedAt   *time.Time `json:"injectedAt,omitempty"`
}

// Review carries the reviewer metadata of a status transition.
type Review struct {
	ReviewedBy   string
	ModifiedFact string
}

// Fact returns the reviewer's rewording when present, else the
// extracted summary.
func (e Entry) Fact() string {
	if e.ModifiedFact != "" {
		return e.ModifiedFact
	}
	return e.ExtractedFact
}

// IsPending reports whether the entry still awaits review.
func (e Entry) IsPending() bool {
	return e.Status == extraction.StatusPending
}

// ArchiveResult summarizes one archive pass.
type ArchiveResult struct {
	Archived    int    `json:"archived"`
	KeptPending int    `json:"keptPending"`
	KeptLive    int    `json:"keptLive"`
	File        string `json:"file,omitempty"`
}

// Stats counts live queue entries.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"byStatus"`
	ByType   map[string]int `json:"byType"`
	Injected int            `json:"injected"`
	Corrupt  int            `json:"corrupt"`
}
