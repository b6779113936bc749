package models

import "time"

// Turn is one persisted (user message, assistant response) pair. Appended at
// turn completion; the per-thread transcript and the history projections are
// read-only views over these records.
type Turn struct {
	CorrelationID    string         `json:"correlation_id"`
	ThreadID         string         `json:"thread_id"`
	UserMessage      string         `json:"user_message"`
	AssistantMessage string         `json:"assistant_message"`
	Status           ResponseStatus `json:"status"`
	Sources          []Source       `json:"sources,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Feedback is one per-turn helpfulness signal, used by the most-helpful
// history projections.
type Feedback struct {
	CorrelationID string    `json:"correlation_id"`
	Helpful       bool      `json:"helpful"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
