package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan crawler.QueueItem, 1)
	go func() {
		item, err := q.Dequeue(context.Background())
		if err == nil {
			result <- item
		}
	}()

	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{SourceID: "bot-1"}))
	select {
	case got := <-result:
		require.Equal(t, "bot-1", got.SourceID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueCoalescesWaitingSource(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, crawler.QueueItem{SourceID: "bot-1"}))
	require.NoError(t, q.Enqueue(ctx, crawler.QueueItem{SourceID: "bot-1"}))
	require.NoError(t, q.Enqueue(ctx, crawler.QueueItem{SourceID: "bot-2"}))
	require.Equal(t, 2, q.Len())

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "bot-1", item.SourceID)

	require.NoError(t, q.Enqueue(ctx, crawler.QueueItem{SourceID: "bot-1"}))
	require.Equal(t, 2, q.Len())
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewQueue(1).Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	full := NewQueue(1)
	require.NoError(t, full.Enqueue(context.Background(), crawler.QueueItem{SourceID: "primed"}))
	require.ErrorIs(t, full.Enqueue(ctx, crawler.QueueItem{SourceID: "other"}), context.Canceled)
	require.NoError(t, full.Enqueue(context.Background(), crawler.QueueItem{SourceID: "primed"}))
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, crawler.ErrQueueClosed)
	require.ErrorIs(t, q.Enqueue(context.Background(), crawler.QueueItem{SourceID: "late"}), crawler.ErrQueueClosed)
	q.Close()
}
