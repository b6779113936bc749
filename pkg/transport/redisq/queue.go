// Package redisq implements the distributed request queue and response store
// on Redis: a list with blocking pop for the queue, keys with TTL for
// response slots. Backend failures surface as ErrQueueUnavailable; there is
// no silent in-memory fallback.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carebridge/policychat/pkg/models"
	"github.com/carebridge/policychat/pkg/transport"
)

const (
	requestListKey = "policychat:requests"

	// blockInterval bounds each BLPOP so Consume can observe context
	// cancellation between blocking calls.
	blockInterval = 2 * time.Second
)

// Queue is a Redis-list request queue. LPUSH/BRPOP gives FIFO delivery; BRPOP
// removes the element atomically, so each request reaches at most one
// consumer and a handler failure never requeues it.
type Queue struct {
	rdb *redis.Client
}

// NewQueue creates a queue over an existing Redis client. The caller owns the
// client lifecycle.
func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Ping verifies the backing store is reachable. Called at startup so an
// unreachable broker fails fast instead of degrading silently.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrQueueUnavailable, err)
	}
	return nil
}

// Publish enqueues one request.
func (q *Queue) Publish(ctx context.Context, req models.Request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	if err := q.rdb.LPush(ctx, requestListKey, raw).Err(); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrQueueUnavailable, err)
	}
	return nil
}

// Consume blocks until a request is popped, delivers it to handler, and
// returns when the handler completes.
func (q *Queue) Consume(ctx context.Context, handler transport.Handler) error {
	for {
		vals, err := q.rdb.BRPop(ctx, blockInterval, requestListKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Timed out waiting; check ctx and block again.
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", transport.ErrQueueUnavailable, err)
		}
		// BRPop returns [key, value].
		if len(vals) != 2 {
			return fmt.Errorf("%w: unexpected BRPOP reply of %d values", transport.ErrQueueUnavailable, len(vals))
		}

		var req models.Request
		if err := json.Unmarshal([]byte(vals[1]), &req); err != nil {
			// Malformed entry: the element is already consumed, log-and-drop
			// is the only option consistent with at-most-once.
			return fmt.Errorf("unmarshaling queued request: %w", err)
		}

		handler(ctx, req)
		return nil
	}
}
