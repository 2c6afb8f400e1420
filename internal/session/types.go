package session

import (
	"time"
)

// Status values for a ContextRecord.
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// Well-known history agents and events.
const (
	AgentUser = "user"

	EventUserMessage     = "user_message"
	EventMessageReceived = "message_received"
	EventAgentResponse   = "agent_response"
	EventHandoff         = "agent_handoff"
)

// HistoryEntry is one event in a session's append-only log.
type HistoryEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Agent     string         `json:"agent"`
	Event     string         `json:"event"`
	Details   map[string]any `json:"details,omitempty"`
}

// IsUserTurn reports whether the entry carries text typed by the user.
func (h HistoryEntry) IsUserTurn() bool {
	return h.Agent == AgentUser || h.Event == EventUserMessage || h.Event == EventMessageReceived
}

// Text returns the first non-empty text-like detail.
func (h HistoryEntry) Text() string {
	for _, key := range []string{"text", "message", "content"} {
		if s, ok := h.Details[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// SentimentEntry is one scored sentiment observation.
type SentimentEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"score"`
	Label     string    `json:"label,omitempty"`
	Source    string    `json:"source,omitempty"`
}

// ContextRecord is the full context of one conversation.
type ContextRecord struct {
	SessionID     string           `json:"session_id"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	Status        string           `json:"status"`
	Identity      map[string]any   `json:"identity"`
	Intent        map[string]any   `json:"intent"`
	Qualification map[string]any   `json:"qualification"`
	Sentiment     []SentimentEntry `json:"sentiment"`
	History       []HistoryEntry   `json:"history"`
}

// Update is a partial record merged into a ContextRecord by Store.Set.
// Nil maps and empty slices leave the corresponding pillar untouched.
type Update struct {
	Status        string
	Identity      map[string]any
	Intent        map[string]any
	Qualification map[string]any
	Sentiment     []SentimentEntry
	History       []HistoryEntry
}

// newRecord returns a default-initialized record.
func newRecord(id string, now time.Time) *ContextRecord {
	return &ContextRecord{
		SessionID:     id,
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        StatusActive,
		Identity:      map[string]any{},
		Intent:        map[string]any{},
		Qualification: map[string]any{},
		Sentiment:     []SentimentEntry{},
		History:       []HistoryEntry{},
	}
}

// normalize fills nil pillars left by older or hand-edited files.
func (r *ContextRecord) normalize(id string, now time.Time) {
	if r.SessionID == "" {
		r.SessionID = id
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	if r.Status == "" {
		r.Status = StatusActive
	}
	if r.Identity == nil {
		r.Identity = map[string]any{}
	}
	if r.Intent == nil {
		r.Intent = map[string]any{}
	}
	if r.Qualification == nil {
		r.Qualification = map[string]any{}
	}
	if r.Sentiment == nil {
		r.Sentiment = []SentimentEntry{}
	}
	if r.History == nil {
		r.History = []HistoryEntry{}
	}
}

// merge applies u additively.
func (r *ContextRecord) merge(u Update, now time.Time) {
	if u.Status != "" {
		r.Status = u.Status
	}
	mergeMap(r.Identity, u.Identity)
	mergeMap(r.Intent, u.Intent)
	mergeMap(r.Qualification, u.Qualification)
	r.Sentiment = append(r.Sentiment, u.Sentiment...)
	r.History = append(r.History, u.History...)
	r.UpdatedAt = now
}

func mergeMap(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}
