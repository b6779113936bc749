package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/policychat/pkg/models"
	"github.com/carebridge/policychat/pkg/state"
)

func seedHistory(t *testing.T) *HistoryService {
	t.Helper()
	store := state.NewMemoryStore()
	ctx := context.Background()

	turns := []models.Turn{
		{CorrelationID: "c1", ThreadID: "t1", UserMessage: "PA for MRI?", Sources: []models.Source{
			{DocumentID: "d1", Title: "Provider Manual", Score: 0.9},
		}},
		{CorrelationID: "c2", ThreadID: "t2", UserMessage: "PA for MRI?", Sources: []models.Source{
			{DocumentID: "d1", Title: "Provider Manual", Score: 0.8},
			{DocumentID: "d2", Title: "Imaging Policy", Score: 0.7},
		}},
		{CorrelationID: "c3", ThreadID: "t3", UserMessage: "Copay rules?", Sources: []models.Source{
			{DocumentID: "d3", Title: "Member Handbook", Score: 0.6},
		}},
	}
	for _, turn := range turns {
		require.NoError(t, store.AppendTurn(ctx, turn))
	}

	svc := NewHistoryService(store)
	require.NoError(t, svc.RecordFeedback(ctx, FeedbackRequest{CorrelationID: "c1", Helpful: true}))
	require.NoError(t, svc.RecordFeedback(ctx, FeedbackRequest{CorrelationID: "c2", Helpful: true}))
	require.NoError(t, svc.RecordFeedback(ctx, FeedbackRequest{CorrelationID: "c3", Helpful: false, Note: "missed the point"}))
	return svc
}

func TestHistoryService_Recent(t *testing.T) {
	svc := seedHistory(t)

	turns, err := svc.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "c3", turns[0].CorrelationID)
	assert.Equal(t, "c2", turns[1].CorrelationID)
}

func TestHistoryService_RecordFeedbackUnknownTurn(t *testing.T) {
	svc := NewHistoryService(state.NewMemoryStore())

	err := svc.RecordFeedback(context.Background(), FeedbackRequest{CorrelationID: "ghost", Helpful: true})
	assert.ErrorIs(t, err, ErrNotFound)

	err = svc.RecordFeedback(context.Background(), FeedbackRequest{})
	assert.True(t, IsValidationError(err))
}

func TestHistoryService_MostHelpfulSearches(t *testing.T) {
	svc := seedHistory(t)

	stats, err := svc.MostHelpfulSearches(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "PA for MRI?", stats[0].Query)
	assert.Equal(t, 2, stats[0].HelpfulCount)
}

func TestHistoryService_MostHelpfulDocuments(t *testing.T) {
	svc := seedHistory(t)

	stats, err := svc.MostHelpfulDocuments(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "Provider Manual", stats[0].Title)
	assert.Equal(t, 2, stats[0].HelpfulCount)
	assert.Equal(t, "Imaging Policy", stats[1].Title)
	assert.Equal(t, 1, stats[1].HelpfulCount)
}
