package state

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/policychat/pkg/models"
)

func TestMemoryStore_PutVersioning(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Get(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)

	// First write must be version 1.
	err = s.Put(ctx, models.ThreadState{ThreadID: "t1", Version: 2})
	assert.ErrorIs(t, err, ErrVersionConflict)
	require.NoError(t, s.Put(ctx, models.ThreadState{ThreadID: "t1", Version: 1, RefinedQuery: "q1"}))

	// Updates must be exactly stored version + 1.
	err = s.Put(ctx, models.ThreadState{ThreadID: "t1", Version: 3})
	assert.ErrorIs(t, err, ErrVersionConflict)
	err = s.Put(ctx, models.ThreadState{ThreadID: "t1", Version: 1})
	assert.ErrorIs(t, err, ErrVersionConflict)
	require.NoError(t, s.Put(ctx, models.ThreadState{ThreadID: "t1", Version: 2, RefinedQuery: "q2"}))

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "q2", got.RefinedQuery)
}

func TestMemoryStore_ConcurrentPutsLoseAtMostOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, models.ThreadState{ThreadID: "t1", Version: 1}))

	// Two writers race to write version 2; exactly one must win.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Put(ctx, models.ThreadState{ThreadID: "t1", Version: 2})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrVersionConflict)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestMemoryStore_AppendTurnIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	turn := models.Turn{CorrelationID: "c1", ThreadID: "t1", UserMessage: "hi", AssistantMessage: "hello"}
	require.NoError(t, s.AppendTurn(ctx, turn))
	require.NoError(t, s.AppendTurn(ctx, turn))

	turns, err := s.RecentTurns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}

func TestMemoryStore_TranscriptOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AppendTurn(ctx, models.Turn{CorrelationID: "c1", ThreadID: "t1", UserMessage: "u1", AssistantMessage: "a1"}))
	require.NoError(t, s.AppendTurn(ctx, models.Turn{CorrelationID: "c2", ThreadID: "t2", UserMessage: "other thread", AssistantMessage: "x"}))
	require.NoError(t, s.AppendTurn(ctx, models.Turn{CorrelationID: "c3", ThreadID: "t1", UserMessage: "u2", AssistantMessage: "a2"}))

	transcript, err := s.Transcript(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, transcript, 4)
	assert.Equal(t, models.TranscriptEntry{Role: models.RoleUser, Content: "u1"}, transcript[0])
	assert.Equal(t, models.TranscriptEntry{Role: models.RoleAssistant, Content: "a1"}, transcript[1])
	assert.Equal(t, models.TranscriptEntry{Role: models.RoleUser, Content: "u2"}, transcript[2])
	assert.Equal(t, models.TranscriptEntry{Role: models.RoleAssistant, Content: "a2"}, transcript[3])
}

func TestMemoryStore_RecentTurnsNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AppendTurn(ctx, models.Turn{CorrelationID: "c1", ThreadID: "t1"}))
	require.NoError(t, s.AppendTurn(ctx, models.Turn{CorrelationID: "c2", ThreadID: "t1"}))
	require.NoError(t, s.AppendTurn(ctx, models.Turn{CorrelationID: "c3", ThreadID: "t1"}))

	turns, err := s.RecentTurns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "c3", turns[0].CorrelationID)
	assert.Equal(t, "c2", turns[1].CorrelationID)
}

func TestMemoryStore_Feedback(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.RecordFeedback(ctx, models.Feedback{CorrelationID: "missing", Helpful: true})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.AppendTurn(ctx, models.Turn{CorrelationID: "c1", ThreadID: "t1", UserMessage: "q1"}))
	require.NoError(t, s.AppendTurn(ctx, models.Turn{CorrelationID: "c2", ThreadID: "t1", UserMessage: "q2"}))

	require.NoError(t, s.RecordFeedback(ctx, models.Feedback{CorrelationID: "c1", Helpful: true}))
	require.NoError(t, s.RecordFeedback(ctx, models.Feedback{CorrelationID: "c2", Helpful: false}))

	helpful, err := s.HelpfulTurns(ctx)
	require.NoError(t, err)
	require.Len(t, helpful, 1)
	assert.Equal(t, "c1", helpful[0].CorrelationID)
}
