package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
)

func TestQueueRoundTripFIFO(t *testing.T) {
	t.Parallel()

	client := newFakeList()
	q := newQueue(client, Config{PollTimeout: time.Millisecond})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, crawler.QueueItem{SourceID: "bot-1", Submitted: 1}))
	require.NoError(t, q.Enqueue(ctx, crawler.QueueItem{SourceID: "bot-2", Submitted: 2}))
	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "bot-1", first.SourceID)
	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "bot-2", second.SourceID)
	require.Equal(t, DefaultKey, client.lastKey)
}

func TestDequeueWaitsThroughEmptyPolls(t *testing.T) {
	t.Parallel()

	client := newFakeList()
	client.emptyPolls = 2
	q := newQueue(client, Config{Key: "custom"})
	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{SourceID: "bot-1"}))

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "bot-1", item.SourceID)
	require.Equal(t, 3, client.pops)
}

func TestDequeueCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newQueue(newFakeList(), Config{}).Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueueErrors(t *testing.T) {
	t.Parallel()

	client := newFakeList()
	client.err = errors.New("connection refused")
	q := newQueue(client, Config{})

	require.ErrorContains(t, q.Enqueue(context.Background(), crawler.QueueItem{SourceID: "x"}), "lpush")
	_, err := q.Dequeue(context.Background())
	require.ErrorContains(t, err, "brpop")
	_, err = q.Len(context.Background())
	require.ErrorContains(t, err, "llen")

	bad := newFakeList()
	bad.items = []string{"not-json"}
	_, err = newQueue(bad, Config{}).Dequeue(context.Background())
	require.ErrorContains(t, err, "decode queue item")
}

// --- fakes ---

type fakeList struct {
	mu         sync.Mutex
	items      []string
	err        error
	emptyPolls int
	pops       int
	lastKey    string
}

func newFakeList() *fakeList {
	return &fakeList{}
}

func (f *fakeList) LPush(ctx context.Context, key string, values ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastKey = key
	if f.err != nil {
		cmd := redis.NewIntResult(0, f.err)
		return cmd
	}
	for _, v := range values {
		f.items = append([]string{string(v.([]byte))}, f.items...)
	}
	return redis.NewIntResult(int64(len(f.items)), nil)
}

func (f *fakeList) BRPop(ctx context.Context, _ time.Duration, keys ...string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pops++
	if f.err != nil {
		return redis.NewStringSliceResult(nil, f.err)
	}
	if f.emptyPolls > 0 || len(f.items) == 0 {
		if f.emptyPolls > 0 {
			f.emptyPolls--
		}
		return redis.NewStringSliceResult(nil, redis.Nil)
	}
	last := f.items[len(f.items)-1]
	f.items = f.items[:len(f.items)-1]
	return redis.NewStringSliceResult([]string{keys[0], last}, nil)
}

func (f *fakeList) LLen(context.Context, string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	return redis.NewIntResult(int64(len(f.items)), nil)
}
