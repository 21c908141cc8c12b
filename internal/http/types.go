package http

import (
	"github.com/fyrsmithlabs/deadlined/internal/extraction"
	"github.com/fyrsmithlabs/deadlined/internal/reminder"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version,omitempty"`
	Services  map[string]string `json:"services"`
	Counts    StatusCounts      `json:"counts"`
	Scheduled int               `json:"scheduled"`
}

// StatusCounts counts deadlines by lifecycle state.
type StatusCounts struct {
	Pending   int `json:"pending"`
	Confirmed int `json:"confirmed"`
	Done      int `json:"done"`
	// Overdue counts deadlines past due and not done.
	Overdue int `json:"overdue"`
}

// ExtractRequest is the request body for POST /api/v1/extract.
type ExtractRequest struct {
	Text string `json:"text"`
	// Provider forces one interpreter: cloud, local or pattern.
	Provider string `json:"provider,omitempty"`
}

// ExtractResponse is the response body for POST /api/v1/extract.
type ExtractResponse struct {
	Candidates  []extraction.Candidate `json:"candidates"`
	Interpreter string                 `json:"interpreter"`
	Attempts    []extraction.Attempt   `json:"attempts"`
}

// ExtractorsResponse is the response body for GET /api/v1/extractors.
type ExtractorsResponse struct {
	Extractors []extraction.Availability `json:"extractors"`
}

// ChatRequest is the request body for POST /api/v1/chat.
type ChatRequest struct {
	Question string `json:"question"`
}

// SuggestionsResponse is the response body for GET /api/v1/chat/suggestions.
type SuggestionsResponse struct {
	Questions []string `json:"questions"`
}

// RuleToggleRequest is the request body for PATCH /api/v1/deadlines/:id/rules/:rule_id.
type RuleToggleRequest struct {
	Enabled *bool `json:"enabled"`
}

// PushRequest is the request body for POST /api/v1/ingestion/:source/messages.
// Either Text or Messages may be set.
type PushRequest struct {
	Text     string   `json:"text,omitempty"`
	Messages []string `json:"messages,omitempty"`
}

// PushResponse reports how many snippets were queued.
type PushResponse struct {
	Queued int `json:"queued"`
}

// RemindersResponse lists pending triggers in fire order.
type RemindersResponse struct {
	Running  bool               `json:"running"`
	Triggers []reminder.Trigger `json:"triggers"`
}
