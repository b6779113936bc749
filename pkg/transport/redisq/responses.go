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

const responseKeyPrefix = "policychat:response:"

// ResponseStore keeps response slots as Redis keys with a TTL. SET NX makes
// Put idempotent: the first write wins, later writes are no-ops.
type ResponseStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewResponseStore creates a store; ttl bounds how long a response is
// retained after the turn completes. Anything under five minutes is raised
// to five so pollers have a usable window.
func NewResponseStore(rdb *redis.Client, ttl time.Duration) *ResponseStore {
	if ttl < 5*time.Minute {
		ttl = 5 * time.Minute
	}
	return &ResponseStore{rdb: rdb, ttl: ttl}
}

// Put stores the response unless a response already exists for the id.
func (s *ResponseStore) Put(ctx context.Context, resp models.Response) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshaling response: %w", err)
	}
	if err := s.rdb.SetNX(ctx, responseKeyPrefix+resp.CorrelationID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("storing response %s: %w", resp.CorrelationID, err)
	}
	return nil
}

// Get returns the stored response or transport.ErrNotFound.
func (s *ResponseStore) Get(ctx context.Context, correlationID string) (models.Response, error) {
	raw, err := s.rdb.Get(ctx, responseKeyPrefix+correlationID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.Response{}, transport.ErrNotFound
		}
		return models.Response{}, fmt.Errorf("reading response %s: %w", correlationID, err)
	}
	var resp models.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return models.Response{}, fmt.Errorf("unmarshaling response %s: %w", correlationID, err)
	}
	return resp, nil
}
