// Package dispatcher manages worker fan-out over the source queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
	"github.com/JakeFAU/funding-crawler/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
	clock   crawler.Clock
}

// New creates a Dispatcher over prebuilt workers.
func New(queue crawler.Queue, workers []*worker.Worker, clock crawler.Clock) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		clock:   clock,
	}
}

// NewPool builds size workers sharing runner and queue.
func NewPool(
	size int,
	queue crawler.Queue,
	runner worker.Runner,
	cfg worker.Config,
	clock crawler.Clock,
	logger *zap.Logger,
) *Dispatcher {
	if size < 1 {
		size = 1
	}
	workers := make([]*worker.Worker, 0, size)
	for i := range size {
		workers = append(workers, worker.New(i+1, queue, runner, cfg, logger))
	}
	return New(queue, workers, clock)
}

// Size reports the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue queues sourceID for the next free worker.
func (d *Dispatcher) Enqueue(ctx context.Context, sourceID string) error {
	now := time.Now()
	if d.clock != nil {
		now = d.clock.Now()
	}
	item := crawler.QueueItem{SourceID: sourceID, Submitted: now.Unix()}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
