// Package services contains the business logic between the HTTP handlers and
// the substrate ports: submission validation and admission, response lookup,
// and the history projections.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/carebridge/policychat/pkg/models"
	"github.com/carebridge/policychat/pkg/transport"
)

// maxMessageLen is the submission size cap, in runes.
const maxMessageLen = 4000

// SubmitRequest is the validated submission input.
type SubmitRequest struct {
	Message  string `json:"message" binding:"required"`
	ThreadID string `json:"thread_id"`
	ActorID  string `json:"actor_id"`
}

// SubmitResult is the acknowledgement returned to the client.
type SubmitResult struct {
	CorrelationID string `json:"correlation_id"`
	ThreadID      string `json:"thread_id"`
	Status        string `json:"status"`
}

// ChatService admits submissions into the queue and serves response lookups.
// It enforces one in-flight turn per thread on this pod: a second submission
// for a thread whose previous turn has no durable response yet is rejected.
type ChatService struct {
	queue     transport.RequestQueue
	responses transport.ResponseStore

	// in-flight correlation id per thread
	mu       sync.Mutex
	inFlight map[string]string
}

// NewChatService creates a ChatService over the queue and response store.
func NewChatService(queue transport.RequestQueue, responses transport.ResponseStore) *ChatService {
	return &ChatService{
		queue:     queue,
		responses: responses,
		inFlight:  make(map[string]string),
	}
}

// Submit validates the request, mints ids, and publishes it to the queue.
func (s *ChatService) Submit(httpCtx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if req.Message == "" {
		return nil, NewValidationError("message", "required")
	}
	if utf8.RuneCountInString(req.Message) > maxMessageLen {
		return nil, NewValidationError("message", fmt.Sprintf("exceeds %d characters", maxMessageLen))
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.New().String()
	}
	correlationID := uuid.New().String()

	if err := s.admit(httpCtx, threadID, correlationID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	request := models.Request{
		CorrelationID: correlationID,
		ThreadID:      threadID,
		Message:       req.Message,
		SubmittedAt:   time.Now().UTC(),
		ActorID:       req.ActorID,
	}
	if err := s.queue.Publish(ctx, request); err != nil {
		s.release(threadID, correlationID)
		if errors.Is(err, transport.ErrQueueUnavailable) {
			return nil, ErrQueueUnavailable
		}
		return nil, fmt.Errorf("publishing request: %w", err)
	}

	return &SubmitResult{
		CorrelationID: correlationID,
		ThreadID:      threadID,
		Status:        string(models.StatusPending),
	}, nil
}

// admit claims the thread's in-flight slot. A previous claim is released
// lazily: if its response has become durable, the thread is free again.
func (s *ChatService) admit(ctx context.Context, threadID, correlationID string) error {
	s.mu.Lock()
	prev, busy := s.inFlight[threadID]
	s.mu.Unlock()

	if busy {
		if _, err := s.responses.Get(ctx, prev); err != nil {
			if errors.Is(err, transport.ErrNotFound) {
				return ErrThreadBusy
			}
			return fmt.Errorf("checking in-flight turn: %w", err)
		}
		s.release(threadID, prev)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.inFlight[threadID]; ok && cur != prev {
		// Another submission won the race.
		return ErrThreadBusy
	}
	s.inFlight[threadID] = correlationID
	return nil
}

// release frees the thread's slot if this submission still holds it.
func (s *ChatService) release(threadID, correlationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[threadID] == correlationID {
		delete(s.inFlight, threadID)
	}
}

// Response returns the durable response for the correlation id, or a
// synthetic pending response while none exists yet.
func (s *ChatService) Response(httpCtx context.Context, correlationID string) (models.Response, error) {
	if correlationID == "" {
		return models.Response{}, NewValidationError("correlation_id", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	resp, err := s.responses.Get(ctx, correlationID)
	if err == nil {
		// The turn is durable, so the thread no longer needs its in-flight
		// slot. Threads that are never polled get swept on their next
		// submission instead.
		s.release(resp.ThreadID, correlationID)
		return resp, nil
	}
	if errors.Is(err, transport.ErrNotFound) {
		// The thread id is unknown until the worker publishes; the synthetic
		// pending body carries only the correlation id.
		return models.Response{
			CorrelationID: correlationID,
			Status:        models.StatusPending,
		}, nil
	}
	return models.Response{}, fmt.Errorf("reading response %s: %w", correlationID, err)
}
