// Package models defines the core entities shared across the transport
// substrate, the turn pipeline, and the front API: requests, responses,
// progress events, thread state, and the answer card wire format.
package models

import "time"

// Request is one submitted question. It is written once by the front API and
// consumed once by exactly one pipeline worker.
type Request struct {
	CorrelationID string    `json:"correlation_id"`
	ThreadID      string    `json:"thread_id"`
	Message       string    `json:"message"`
	SubmittedAt   time.Time `json:"submitted_at"`
	ActorID       string    `json:"actor_id,omitempty"`
}

// ResponseStatus is the terminal disposition of a turn.
type ResponseStatus string

// Response status values. Pending is synthetic: it is never stored, only
// reported by the poll endpoint while no durable response exists yet.
const (
	StatusPending       ResponseStatus = "pending"
	StatusCompleted     ResponseStatus = "completed"
	StatusClarification ResponseStatus = "clarification"
	StatusRefinementAsk ResponseStatus = "refinement_ask"
	StatusFailed        ResponseStatus = "failed"
)

// Source is one cited passage backing an answer.
type Source struct {
	DocumentID string  `json:"document_id,omitempty"`
	Title      string  `json:"title"`
	URL        string  `json:"url,omitempty"`
	Snippet    string  `json:"snippet,omitempty"`
	Score      float64 `json:"score"`
}

// Response is the durable result of one turn, keyed by correlation id.
// Written at most once; immutable once written.
type Response struct {
	CorrelationID         string                 `json:"correlation_id"`
	ThreadID              string                 `json:"thread_id"`
	Status                ResponseStatus         `json:"status"`
	Message               string                 `json:"message"`
	Sources               []Source               `json:"sources"`
	SourceConfidenceStrip []float64              `json:"source_confidence_strip"`
	ThinkingLog           []string               `json:"thinking_log"`
	ModelUsed             string                 `json:"model_used,omitempty"`
	Error                 string                 `json:"llm_error,omitempty"`
	OpenSlots             []string               `json:"open_slots,omitempty"`
	ClarificationOptions  []ClarificationOption  `json:"clarification_options,omitempty"`
}

// Terminal reports whether the status closes the turn.
func (s ResponseStatus) Terminal() bool {
	return s != StatusPending && s != ""
}
