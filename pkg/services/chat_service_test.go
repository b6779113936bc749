package services

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/policychat/pkg/models"
	"github.com/carebridge/policychat/pkg/transport/memory"
)

func newChatService() (*ChatService, *memory.Queue, *memory.ResponseStore) {
	queue := memory.NewQueue(16)
	responses := memory.NewResponseStore()
	return NewChatService(queue, responses), queue, responses
}

func TestChatService_Submit(t *testing.T) {
	svc, queue, _ := newChatService()
	ctx := context.Background()

	result, err := svc.Submit(ctx, SubmitRequest{Message: "Is PA required for MRI?"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.CorrelationID)
	assert.NotEmpty(t, result.ThreadID)
	assert.Equal(t, "pending", result.Status)

	// The request landed on the queue with the minted ids.
	var got models.Request
	require.NoError(t, queue.Consume(ctx, func(_ context.Context, req models.Request) { got = req }))
	assert.Equal(t, result.CorrelationID, got.CorrelationID)
	assert.Equal(t, result.ThreadID, got.ThreadID)
	assert.Equal(t, "Is PA required for MRI?", got.Message)
	assert.False(t, got.SubmittedAt.IsZero())
}

func TestChatService_SubmitValidation(t *testing.T) {
	svc, _, _ := newChatService()
	ctx := context.Background()

	_, err := svc.Submit(ctx, SubmitRequest{Message: ""})
	assert.True(t, IsValidationError(err))

	_, err = svc.Submit(ctx, SubmitRequest{Message: strings.Repeat("x", maxMessageLen+1)})
	assert.True(t, IsValidationError(err))

	// Exactly at the cap is accepted.
	_, err = svc.Submit(ctx, SubmitRequest{Message: strings.Repeat("x", maxMessageLen)})
	assert.NoError(t, err)
}

func TestChatService_RejectsConcurrentTurnOnThread(t *testing.T) {
	svc, _, responses := newChatService()
	ctx := context.Background()

	first, err := svc.Submit(ctx, SubmitRequest{Message: "first", ThreadID: "t1"})
	require.NoError(t, err)

	// Same thread, previous turn still unresolved.
	_, err = svc.Submit(ctx, SubmitRequest{Message: "second", ThreadID: "t1"})
	assert.ErrorIs(t, err, ErrThreadBusy)

	// A different thread is unaffected.
	_, err = svc.Submit(ctx, SubmitRequest{Message: "other", ThreadID: "t2"})
	assert.NoError(t, err)

	// Once the first turn's response is durable the thread frees up.
	require.NoError(t, responses.Put(ctx, models.Response{
		CorrelationID: first.CorrelationID,
		Status:        models.StatusCompleted,
	}))
	_, err = svc.Submit(ctx, SubmitRequest{Message: "third", ThreadID: "t1"})
	assert.NoError(t, err)
}

func TestChatService_SubmitQueueUnavailable(t *testing.T) {
	svc, queue, _ := newChatService()
	queue.Close()

	_, err := svc.Submit(context.Background(), SubmitRequest{Message: "hello", ThreadID: "t1"})
	assert.ErrorIs(t, err, ErrQueueUnavailable)

	// The failed submission must not leave the thread marked busy.
	svcQueue := memory.NewQueue(4)
	svc.queue = svcQueue
	_, err = svc.Submit(context.Background(), SubmitRequest{Message: "retry", ThreadID: "t1"})
	assert.NoError(t, err)
}

func TestChatService_Response(t *testing.T) {
	svc, _, responses := newChatService()
	ctx := context.Background()

	// No durable response yet: synthetic pending.
	resp, err := svc.Response(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, resp.Status)
	assert.Equal(t, "c1", resp.CorrelationID)

	stored := models.Response{CorrelationID: "c1", Status: models.StatusCompleted, Message: "done"}
	require.NoError(t, responses.Put(ctx, stored))

	resp, err = svc.Response(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, stored, resp)

	_, err = svc.Response(ctx, "")
	assert.True(t, IsValidationError(err))

	// The synthetic pending body has no thread id to carry: the mapping
	// exists only once the worker publishes.
	resp, err = svc.Response(ctx, "c2")
	require.NoError(t, err)
	assert.Empty(t, resp.ThreadID)
}

func TestChatService_FreesThreadSlotsAfterDurableResponse(t *testing.T) {
	svc, _, responses := newChatService()
	ctx := context.Background()

	// Many threads submit once each; their turns complete and the clients
	// poll. The admission table must not keep growing.
	for i := 0; i < 10; i++ {
		threadID := "t" + strconv.Itoa(i)
		res, err := svc.Submit(ctx, SubmitRequest{Message: "q", ThreadID: threadID})
		require.NoError(t, err)
		require.NoError(t, responses.Put(ctx, models.Response{
			CorrelationID: res.CorrelationID,
			ThreadID:      threadID,
			Status:        models.StatusCompleted,
		}))
		_, err = svc.Response(ctx, res.CorrelationID)
		require.NoError(t, err)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Empty(t, svc.inFlight)
}
