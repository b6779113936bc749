package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/policychat/pkg/models"
	"github.com/carebridge/policychat/pkg/transport"
)

func TestQueue_DeliversAtMostOnce(t *testing.T) {
	q := NewQueue(16)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, q.Publish(ctx, models.Request{CorrelationID: fmt.Sprintf("req-%d", i)}))
	}

	// Several competing consumers; every request must be seen exactly once.
	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				err := q.Consume(ctx, func(_ context.Context, req models.Request) {
					mu.Lock()
					seen[req.CorrelationID]++
					mu.Unlock()
				})
				if err != nil {
					return
				}
				mu.Lock()
				done := len(seen) == n
				mu.Unlock()
				if done {
					cancel()
					return
				}
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, n)
	for cid, count := range seen {
		assert.Equal(t, 1, count, "request %s delivered %d times", cid, count)
	}
}

func TestQueue_ConsumeBlocksUntilPublish(t *testing.T) {
	q := NewQueue(1)
	ctx := context.Background()

	got := make(chan models.Request, 1)
	go func() {
		_ = q.Consume(ctx, func(_ context.Context, req models.Request) {
			got <- req
		})
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Publish(ctx, models.Request{CorrelationID: "c1"}))

	select {
	case req := <-got:
		assert.Equal(t, "c1", req.CorrelationID)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never received the request")
	}
}

func TestQueue_ClosedReturnsUnavailable(t *testing.T) {
	q := NewQueue(1)
	q.Close()

	err := q.Publish(context.Background(), models.Request{CorrelationID: "c1"})
	assert.ErrorIs(t, err, transport.ErrQueueUnavailable)

	err = q.Consume(context.Background(), func(context.Context, models.Request) {})
	assert.ErrorIs(t, err, transport.ErrQueueUnavailable)
}

func TestQueue_ConsumeHonorsContext(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Consume(ctx, func(context.Context, models.Request) {})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return after cancel")
	}
}

func TestResponseStore_FirstWriteWins(t *testing.T) {
	s := NewResponseStore()
	ctx := context.Background()

	first := models.Response{CorrelationID: "c1", Status: models.StatusCompleted, Message: "first"}
	require.NoError(t, s.Put(ctx, first))
	require.NoError(t, s.Put(ctx, models.Response{CorrelationID: "c1", Status: models.StatusFailed, Message: "second"}))

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, first, got)
}

func TestResponseStore_GetMissing(t *testing.T) {
	s := NewResponseStore()
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, transport.ErrNotFound)
}
