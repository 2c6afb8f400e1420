package http

import (
	"github.com/fyrsmithlabs/opsloop/internal/services"
	"github.com/fyrsmithlabs/opsloop/internal/validation"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status     string                 `json:"status"`
	Components map[string]string      `json:"components,omitempty"`
	Counts     *services.HealthCounts `json:"counts,omitempty"`
}

// EventRequest is the request body for POST /api/v1/sessions/:id/events.
type EventRequest struct {
	Agent   string         `json:"agent"`
	Event   string         `json:"event"`
	Details map[string]any `json:"details,omitempty"`
}

// EventResponse reports the session after an event was logged.
type EventResponse struct {
	SessionID    string `json:"sessionId"`
	HistoryCount int    `json:"historyCount"`
}

// ReviewRequest is the request body for POST /api/v1/queue/:id/review.
type ReviewRequest struct {
	Status       string `json:"status"`
	ReviewedBy   string `json:"reviewedBy,omitempty"`
	ModifiedFact string `json:"modifiedFact,omitempty"`
}

// QueueResponse is the response body for GET /api/v1/queue.
type QueueResponse struct {
	Entries []validation.Entry `json:"entries"`
	Count   int                `json:"count"`
}

// InstructionsResponse is the response body for
// GET /api/v1/instructions/:sector.
type InstructionsResponse struct {
	Sector       string   `json:"sector"`
	Instructions []string `json:"instructions"`
}
