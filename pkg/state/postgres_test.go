package state

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/policychat/pkg/models"
	"github.com/carebridge/policychat/test/util"
)

func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	return NewPostgresStore(util.SetupTestDatabase(t))
}

func TestPostgresStore_GetMissing(t *testing.T) {
	store := newTestPostgresStore(t)

	_, err := store.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_PutVersioning(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()

	st := models.NewThreadState("t1")
	st.RefinedQuery = "PA for MRI"
	st.Version = 1
	require.NoError(t, store.Put(ctx, st))

	// A second version-1 insert for the same thread loses.
	dup := models.NewThreadState("t1")
	dup.Version = 1
	assert.ErrorIs(t, store.Put(ctx, dup), ErrVersionConflict)

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, "PA for MRI", got.RefinedQuery)

	// An update must carry exactly version+1.
	got.RefinedQuery = "PA for MRI, Sunshine Health"
	got.Version = 2
	require.NoError(t, store.Put(ctx, got))

	stale := got
	stale.Version = 2 // replaying the same version loses
	assert.ErrorIs(t, store.Put(ctx, stale), ErrVersionConflict)

	skipped := got
	skipped.Version = 4 // skipping ahead loses too
	assert.ErrorIs(t, store.Put(ctx, skipped), ErrVersionConflict)

	got, err = store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "PA for MRI, Sunshine Health", got.RefinedQuery)
}

func TestPostgresStore_StateRoundTrip(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()

	st := models.NewThreadState("t1")
	st.Version = 1
	st.OpenSlots = []string{"payer"}
	st.PendingQuestion = "Is PA required for MRI?"
	st.LastBlueprint = &models.Blueprint{
		Subquestions: []models.Subquestion{{ID: "sq1", Text: "lookup", Path: models.PathRAG}},
	}
	require.NoError(t, store.Put(ctx, st))

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, st.OpenSlots, got.OpenSlots)
	assert.Equal(t, st.PendingQuestion, got.PendingQuestion)
	require.NotNil(t, got.LastBlueprint)
	assert.Equal(t, "sq1", got.LastBlueprint.Subquestions[0].ID)
}

func TestPostgresStore_AppendTurnIdempotent(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()

	turn := models.Turn{
		CorrelationID: "c1", ThreadID: "t1",
		UserMessage: "q", AssistantMessage: "a",
		Status:  models.StatusCompleted,
		Sources: []models.Source{{DocumentID: "d1", Title: "Manual", Score: 0.9}},
	}
	require.NoError(t, store.AppendTurn(ctx, turn))
	turn.AssistantMessage = "rewritten"
	require.NoError(t, store.AppendTurn(ctx, turn))

	turns, err := store.RecentTurns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "a", turns[0].AssistantMessage)
	require.Len(t, turns[0].Sources, 1)
	assert.Equal(t, "Manual", turns[0].Sources[0].Title)
}

func TestPostgresStore_TranscriptOrder(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.AppendTurn(ctx, models.Turn{
			CorrelationID: fmt.Sprintf("c%d", i), ThreadID: "t1",
			UserMessage: fmt.Sprintf("q%d", i), AssistantMessage: fmt.Sprintf("a%d", i),
			Status: models.StatusCompleted,
		}))
	}
	// Another thread's turn stays out of the transcript.
	require.NoError(t, store.AppendTurn(ctx, models.Turn{
		CorrelationID: "other", ThreadID: "t2", UserMessage: "x", Status: models.StatusCompleted,
	}))

	entries, err := store.Transcript(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, entries, 6)
	assert.Equal(t, models.RoleUser, entries[0].Role)
	assert.Equal(t, "q0", entries[0].Content)
	assert.Equal(t, models.RoleAssistant, entries[5].Role)
	assert.Equal(t, "a2", entries[5].Content)
}

func TestPostgresStore_RecentTurnsNewestFirst(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendTurn(ctx, models.Turn{
			CorrelationID: fmt.Sprintf("c%d", i), ThreadID: "t1",
			UserMessage: fmt.Sprintf("q%d", i), Status: models.StatusCompleted,
			CreatedAt: time.Now(),
		}))
	}

	turns, err := store.RecentTurns(ctx, 3)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "c4", turns[0].CorrelationID)
	assert.Equal(t, "c2", turns[2].CorrelationID)
}

func TestPostgresStore_Feedback(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()

	err := store.RecordFeedback(ctx, models.Feedback{CorrelationID: "ghost", Helpful: true})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.AppendTurn(ctx, models.Turn{CorrelationID: "c1", ThreadID: "t1", UserMessage: "q1", Status: models.StatusCompleted}))
	require.NoError(t, store.AppendTurn(ctx, models.Turn{CorrelationID: "c2", ThreadID: "t1", UserMessage: "q2", Status: models.StatusCompleted}))

	require.NoError(t, store.RecordFeedback(ctx, models.Feedback{CorrelationID: "c1", Helpful: true}))
	require.NoError(t, store.RecordFeedback(ctx, models.Feedback{CorrelationID: "c2", Helpful: false, Note: "missed the point"}))

	helpful, err := store.HelpfulTurns(ctx)
	require.NoError(t, err)
	require.Len(t, helpful, 1)
	assert.Equal(t, "c1", helpful[0].CorrelationID)
}
