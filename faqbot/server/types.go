package server

import (
	ports "github.com/ZanzyTHEbar/faqbot/faqbot/generation/harness/ports"
)

// AskRequest is the POST /ask request body.
type AskRequest struct {
	Question string `json:"question"`

	// SessionID is optional. When empty the X-Session-ID header, then the session cookie,
	// is consulted, and a new id is minted as a last resort.
	SessionID string `json:"session_id,omitempty"`
}

// AskResponse is the POST /ask response body.
type AskResponse struct {
	Response  string       `json:"response"`
	History   []ports.Turn `json:"history"`
	SessionID string       `json:"session_id"`
	Error     string       `json:"error,omitempty"`
}

// HistoryResponse is returned by GET /sessions/{id}/history.
type HistoryResponse struct {
	SessionID string       `json:"session_id"`
	History   []ports.Turn `json:"history"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Documents int    `json:"documents"`
	Sessions  int    `json:"sessions"`
}

// ErrorResponse is the body of every 4xx/5xx answer produced by the server itself.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// askSchema validates POST /ask bodies.
const askSchema = `{
  "type": "object",
  "required": ["question"],
  "properties": {
    "question": {"type": "string"},
    "session_id": {"type": "string", "maxLength": 128}
  }
}`
