package models

import (
	"encoding/json"
	"time"
)

// EventKind classifies progress events on the per-correlation live feed.
type EventKind string

// Progress event kinds. Completed and Error are terminal: once either is
// appended for a correlation id, no further events for that id are valid.
const (
	EventThinking     EventKind = "thinking"
	EventMessageChunk EventKind = "message_chunk"
	EventCompleted    EventKind = "completed"
	EventError        EventKind = "error"
)

// Terminal reports whether the kind closes the stream.
func (k EventKind) Terminal() bool {
	return k == EventCompleted || k == EventError
}

// ProgressEvent is one ordered entry in a correlation's append-only feed.
// Seq is assigned by the log, monotonically increasing and gapless per
// correlation id.
type ProgressEvent struct {
	Seq           int64           `json:"seq"`
	CorrelationID string          `json:"correlation_id"`
	Kind          EventKind       `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ThinkingPayload is the payload of an EventThinking event: one short
// human-readable progress line tied to the stage that produced it.
type ThinkingPayload struct {
	Stage string `json:"stage"`
	Line  string `json:"line"`
}

// ChunkPayload is the payload of an EventMessageChunk event: one streamed
// answer fragment. Chunks concatenate in seq order into the final message.
// Terminal events carry the full Response as payload, so stream consumers see
// the same body the poll endpoint serves.
type ChunkPayload struct {
	Delta string `json:"delta"`
}
