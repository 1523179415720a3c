// Package memory provides an in-process source queue for single-node runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
)

// Queue is a bounded queue of source runs. A source that is already waiting
// is not queued a second time.
type Queue struct {
	ch      chan crawler.QueueItem
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	pending map[string]struct{}
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch:      make(chan crawler.QueueItem, capacity),
		done:    make(chan struct{}),
		pending: make(map[string]struct{}),
	}
}

// Enqueue adds item unless its source is already waiting. It blocks while
// the queue is full.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return crawler.ErrQueueClosed
	}
	if _, waiting := q.pending[item.SourceID]; waiting {
		q.mu.Unlock()
		return nil
	}
	q.pending[item.SourceID] = struct{}{}
	q.mu.Unlock()

	select {
	case q.ch <- item:
		return nil
	case <-q.done:
		q.forget(item.SourceID)
		return crawler.ErrQueueClosed
	case <-ctx.Done():
		q.forget(item.SourceID)
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	}
}

// Dequeue pops the next item, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case item := <-q.ch:
		q.forget(item.SourceID)
		return item, nil
	case <-q.done:
		return crawler.QueueItem{}, crawler.ErrQueueClosed
	case <-ctx.Done():
		return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	}
}

// Len reports how many items are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue. Waiting items are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) forget(sourceID string) {
	q.mu.Lock()
	delete(q.pending, sourceID)
	q.mu.Unlock()
}
