// Package memory implements the transport substrate in-process: a bounded
// blocking request queue, a response slot map, and a condition-guarded
// progress log. No persistence across restarts; intended for development and
// tests. Semantics are identical to the distributed implementation.
package memory

import (
	"context"
	"sync"

	"github.com/carebridge/policychat/pkg/models"
	"github.com/carebridge/policychat/pkg/transport"
)

// Queue is a bounded, blocking in-process request queue.
type Queue struct {
	ch       chan models.Request
	closed   chan struct{}
	closeOne sync.Once
}

// NewQueue creates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	return &Queue{
		ch:     make(chan models.Request, capacity),
		closed: make(chan struct{}),
	}
}

// Publish enqueues the request, blocking while the queue is full.
func (q *Queue) Publish(ctx context.Context, req models.Request) error {
	select {
	case <-q.closed:
		return transport.ErrQueueUnavailable
	default:
	}
	select {
	case q.ch <- req:
		return nil
	case <-q.closed:
		return transport.ErrQueueUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume blocks until one request is available, delivers it to handler, and
// returns when the handler completes.
func (q *Queue) Consume(ctx context.Context, handler transport.Handler) error {
	select {
	case req := <-q.ch:
		handler(ctx, req)
		return nil
	case <-q.closed:
		return transport.ErrQueueUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the queue unavailable. Pending Publish/Consume calls return
// ErrQueueUnavailable.
func (q *Queue) Close() {
	q.closeOne.Do(func() { close(q.closed) })
}
