package memory

import (
	"context"
	"sync"

	"github.com/carebridge/policychat/pkg/models"
	"github.com/carebridge/policychat/pkg/transport"
)

// ResponseStore keeps response slots in a map. First write wins; later writes
// for the same correlation id are no-ops.
type ResponseStore struct {
	mu    sync.RWMutex
	slots map[string]models.Response
}

// NewResponseStore creates an empty response store.
func NewResponseStore() *ResponseStore {
	return &ResponseStore{slots: make(map[string]models.Response)}
}

// Put stores the response unless a response already exists for the id.
func (s *ResponseStore) Put(_ context.Context, resp models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slots[resp.CorrelationID]; ok {
		return nil
	}
	s.slots[resp.CorrelationID] = resp
	return nil
}

// Get returns the stored response or transport.ErrNotFound.
func (s *ResponseStore) Get(_ context.Context, correlationID string) (models.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp, ok := s.slots[correlationID]
	if !ok {
		return models.Response{}, transport.ErrNotFound
	}
	return resp, nil
}
