// Package transport defines the substrate ports consumed by the rest of the
// system: the correlation-keyed request queue, the durable response slot
// store, and the ordered progress-event log. Two interchangeable
// implementations exist with identical semantics: a single-process one
// (memory) and a distributed one (redisq + pglog).
package transport

import (
	"context"
	"errors"

	"github.com/carebridge/policychat/pkg/models"
)

// Sentinel errors shared by all implementations.
var (
	// ErrQueueUnavailable indicates the queue's backing store is
	// unreachable or shut down. It is never masked by a fallback.
	ErrQueueUnavailable = errors.New("request queue unavailable")

	// ErrNotFound indicates no response exists for the correlation id.
	ErrNotFound = errors.New("response not found")

	// ErrTerminalReached rejects an append after a terminal event. The
	// progress stream for a correlation id is closed by its first
	// completed or error event.
	ErrTerminalReached = errors.New("progress stream already terminal")

	// ErrEndOfStream is returned by an iterator after the terminal event
	// has been delivered.
	ErrEndOfStream = errors.New("end of progress stream")
)

// Handler processes one delivered request. The queue considers the request
// consumed the moment it is handed over: if the handler fails mid-processing
// the request is lost, never redelivered (chat requests are interactive; the
// client reissues).
type Handler func(ctx context.Context, req models.Request)

// RequestQueue is the correlation-keyed request broker.
type RequestQueue interface {
	// Publish enqueues one request. Fails with ErrQueueUnavailable if the
	// backing store is unreachable.
	Publish(ctx context.Context, req models.Request) error

	// Consume blocks until a request arrives, delivers it to handler, and
	// returns once the handler completes. Each request is delivered to at
	// most one consumer. Returns ctx.Err() if the context ends first.
	Consume(ctx context.Context, handler Handler) error
}

// ResponseStore holds the durable response slot per correlation id.
type ResponseStore interface {
	// Put writes the response. Idempotent: a second write for the same
	// correlation id is a no-op and the first response stays observable.
	Put(ctx context.Context, resp models.Response) error

	// Get returns the stored response or ErrNotFound.
	Get(ctx context.Context, correlationID string) (models.Response, error)
}

// ProgressLog is the ordered, per-correlation append-only event feed.
type ProgressLog interface {
	// Append atomically assigns the next seq for the correlation id and
	// appends the event. Returns ErrTerminalReached if a terminal event
	// already exists for the id.
	Append(ctx context.Context, correlationID string, kind models.EventKind, payload any) (int64, error)

	// ReadFrom returns a live iterator over events with seq > afterSeq in
	// order. The iterator blocks for new events until a terminal event is
	// observed or the context's deadline elapses.
	ReadFrom(ctx context.Context, correlationID string, afterSeq int64) (EventIterator, error)

	// ReadSnapshot returns the events recorded so far, non-blocking.
	ReadSnapshot(ctx context.Context, correlationID string) ([]models.ProgressEvent, error)
}

// EventIterator yields progress events in seq order.
type EventIterator interface {
	// Next blocks until the next event is available. After the terminal
	// event has been returned, subsequent calls return ErrEndOfStream.
	// Returns ctx.Err() if the context ends while waiting.
	Next(ctx context.Context) (models.ProgressEvent, error)

	// Close releases the iterator. Safe to call concurrently with Next.
	Close() error
}
