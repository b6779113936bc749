// Package llm defines the port to the large-language-model backend and its
// OpenAI-backed implementation. The pipeline depends only on the Client
// interface; streaming is an optional capability discovered by type
// assertion.
package llm

import (
	"context"
	"errors"
)

// Message roles follow the chat-completion convention.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the conversation sent to the model.
type Message struct {
	Role    string
	Content string
}

// Request is a synchronous completion request.
type Request struct {
	Messages    []Message
	Model       string // empty = client default
	Temperature float64
	MaxTokens   int
}

// Client is the synchronous completion port.
type Client interface {
	// Complete sends the conversation and returns the full completion text.
	Complete(ctx context.Context, req Request) (string, error)

	// Model reports the model identifier used for completions, for the
	// model_used response field.
	Model() string
}

// Chunk is one streamed completion fragment. A non-nil Err terminates the
// stream; the channel closes after the final chunk.
type Chunk struct {
	Delta string
	Err   error
}

// Streamer is the optional streaming capability of a Client.
type Streamer interface {
	// Stream sends the conversation and returns a channel of deltas. The
	// channel is closed when the stream ends.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// ErrEmptyCompletion indicates the provider returned no choices.
var ErrEmptyCompletion = errors.New("llm returned empty completion")
