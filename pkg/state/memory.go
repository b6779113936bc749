package state

import (
	"context"
	"sync"
	"time"

	"github.com/carebridge/policychat/pkg/models"
)

// MemoryStore is the in-process ThreadStore used by the single-process
// substrate and by tests.
type MemoryStore struct {
	mu       sync.RWMutex
	states   map[string]models.ThreadState
	turns    []models.Turn
	byCorr   map[string]struct{}
	feedback []models.Feedback
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]models.ThreadState),
		byCorr: make(map[string]struct{}),
	}
}

// Get returns the stored state or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, threadID string) (models.ThreadState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[threadID]
	if !ok {
		return models.ThreadState{}, ErrNotFound
	}
	return st, nil
}

// Put writes the state conditional on the stored version.
func (s *MemoryStore) Put(_ context.Context, st models.ThreadState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, exists := s.states[st.ThreadID]
	switch {
	case !exists:
		if st.Version != 1 {
			return ErrVersionConflict
		}
	case stored.Version != st.Version-1:
		return ErrVersionConflict
	}
	s.states[st.ThreadID] = st
	return nil
}

// AppendTurn records the turn once per correlation id.
func (s *MemoryStore) AppendTurn(_ context.Context, turn models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byCorr[turn.CorrelationID]; ok {
		return nil
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	s.byCorr[turn.CorrelationID] = struct{}{}
	s.turns = append(s.turns, turn)
	return nil
}

// Transcript returns (user, assistant) entries in turn-completion order.
func (s *MemoryStore) Transcript(_ context.Context, threadID string) ([]models.TranscriptEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.TranscriptEntry
	for _, t := range s.turns {
		if t.ThreadID != threadID {
			continue
		}
		out = append(out, models.TranscriptEntry{Role: models.RoleUser, Content: t.UserMessage})
		out = append(out, models.TranscriptEntry{Role: models.RoleAssistant, Content: t.AssistantMessage})
	}
	return out, nil
}

// RecentTurns returns up to limit turns, newest first.
func (s *MemoryStore) RecentTurns(_ context.Context, limit int) ([]models.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.turns)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]models.Turn, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.turns[i])
	}
	return out, nil
}

// RecordFeedback records one helpfulness signal against an existing turn.
func (s *MemoryStore) RecordFeedback(_ context.Context, fb models.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byCorr[fb.CorrelationID]; !ok {
		return ErrNotFound
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now()
	}
	s.feedback = append(s.feedback, fb)
	return nil
}

// HelpfulTurns returns the turns with at least one positive signal, newest
// first.
func (s *MemoryStore) HelpfulTurns(_ context.Context) ([]models.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	helpful := make(map[string]bool)
	for _, fb := range s.feedback {
		if fb.Helpful {
			helpful[fb.CorrelationID] = true
		}
	}
	var out []models.Turn
	for i := len(s.turns) - 1; i >= 0; i-- {
		if helpful[s.turns[i].CorrelationID] {
			out = append(out, s.turns[i])
		}
	}
	return out, nil
}
