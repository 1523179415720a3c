// Package worker consumes the source queue and runs each source through the
// orchestrator.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
	"github.com/JakeFAU/funding-crawler/internal/metrics"
)

// Runner executes one source run.
type Runner interface {
	RunByID(ctx context.Context, sourceID string) (crawler.RunResult, error)
}

// Dequeue backoff defaults.
const (
	DefaultBackoff    = time.Second
	DefaultMaxBackoff = 30 * time.Second
)

// Config controls Worker behavior.
type Config struct {
	// MaxAttempts bounds how often a run that failed before visiting any
	// target is queued again. Values below 2 disable requeueing.
	MaxAttempts int
	// Backoff is the first pause after a failed dequeue. It doubles on each
	// consecutive failure up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Worker pulls one item at a time, so it holds at most one session.
type Worker struct {
	id     int
	queue  crawler.Queue
	runner Runner
	cfg    Config
	pauser crawler.Pauser
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, queue crawler.Queue, runner Runner, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = max(DefaultMaxBackoff, cfg.Backoff)
	}
	return &Worker{
		id:     id,
		queue:  queue,
		runner: runner,
		cfg:    cfg,
		pauser: crawler.TimerPauser{},
		logger: logger.Named("worker").With(zap.Int("worker_id", id)),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// closes.
func (w *Worker) Run(ctx context.Context) {
	var backoff time.Duration
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			backoff = w.nextBackoff(backoff)
			w.logger.Error("queue dequeue failed", zap.Duration("retry_in", backoff), zap.Error(err))
			w.pauser.Pause(ctx, backoff)
			continue
		}
		backoff = 0
		w.logger.Debug("dequeued source", zap.String("source_id", item.SourceID), zap.Int("attempt", item.Attempt))
		w.process(ctx, item)
	}
}

func (w *Worker) nextBackoff(prev time.Duration) time.Duration {
	if prev <= 0 {
		return w.cfg.Backoff
	}
	return min(prev*2, w.cfg.MaxBackoff)
}

func (w *Worker) process(ctx context.Context, item crawler.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	result, err := w.runner.RunByID(ctx, item.SourceID)
	if errors.Is(err, crawler.ErrSourceBusy) {
		w.logger.Info("source already running", zap.String("source_id", item.SourceID))
		return
	}
	if err != nil {
		w.logger.Error("run source", zap.String("source_id", item.SourceID), zap.Error(err))
		return
	}
	if result.Success || len(result.Targets) > 0 || ctx.Err() != nil {
		return
	}
	if item.Attempt+1 >= w.cfg.MaxAttempts {
		w.logger.Warn("giving up on source",
			zap.String("source_id", item.SourceID),
			zap.Int("attempts", item.Attempt+1),
			zap.String("error", result.Err),
		)
		return
	}
	retry := item
	retry.Attempt++
	if err := w.queue.Enqueue(ctx, retry); err != nil {
		w.logger.Error("requeue source", zap.String("source_id", item.SourceID), zap.Error(err))
	}
}
