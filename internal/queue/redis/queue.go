// Package redis implements the source queue on a Redis list so several
// crawler processes can share one backlog.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
)

// DefaultKey is the list holding queued source runs.
const DefaultKey = "fundcrawler:sources"

const defaultPollTimeout = 5 * time.Second

// listClient is the subset of *redis.Client the queue uses.
type listClient interface {
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
}

// Config controls the queue.
type Config struct {
	Key         string
	PollTimeout time.Duration
}

// Queue pushes on the left and pops on the right, giving FIFO order.
type Queue struct {
	client listClient
	key    string
	poll   time.Duration
}

// New constructs a Queue on client.
func New(client *redis.Client, cfg Config) *Queue {
	return newQueue(client, cfg)
}

func newQueue(client listClient, cfg Config) *Queue {
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	return &Queue{client: client, key: cfg.Key, poll: cfg.PollTimeout}
}

// Enqueue appends item to the list.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

// Dequeue blocks until an item arrives or ctx ends.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		values, err := q.client.BRPop(ctx, q.poll, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
			}
			return crawler.QueueItem{}, fmt.Errorf("redis brpop: %w", err)
		}
		// BRPOP replies with [key, value].
		if len(values) != 2 {
			return crawler.QueueItem{}, fmt.Errorf("redis brpop: unexpected reply of %d elements", len(values))
		}
		var item crawler.QueueItem
		if err := json.Unmarshal([]byte(values[1]), &item); err != nil {
			return crawler.QueueItem{}, fmt.Errorf("decode queue item: %w", err)
		}
		return item, nil
	}
}

// Len reports the backlog size.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen: %w", err)
	}
	return n, nil
}
