// Package scheduler periodically queues every eligible source.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
)

// Enqueuer accepts a source for a later run.
type Enqueuer interface {
	Enqueue(ctx context.Context, sourceID string) error
}

// Config controls the scheduler.
type Config struct {
	// Interval between sweeps. Zero disables Run.
	Interval time.Duration
	// Region limits sweeps to one region when set.
	Region string
	// Stagger is the pause between two enqueues of the same sweep.
	Stagger time.Duration
}

// Scheduler sweeps the source registry into the queue.
type Scheduler struct {
	sources crawler.TargetStore
	queue   Enqueuer
	pauser  crawler.Pauser
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Scheduler.
func New(sources crawler.TargetStore, queue Enqueuer, pauser crawler.Pauser, cfg Config, logger *zap.Logger) *Scheduler {
	if pauser == nil {
		pauser = crawler.TimerPauser{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{sources: sources, queue: queue, pauser: pauser, cfg: cfg, logger: logger.Named("scheduler")}
}

// Tick queues every eligible source once and returns how many were queued.
// A failed enqueue is logged and the sweep continues.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	sources, err := s.sources.ActiveSources(ctx, s.cfg.Region)
	if err != nil {
		return 0, fmt.Errorf("list sources: %w", err)
	}
	queued := 0
	var errs []error
	for i, source := range sources {
		if ctx.Err() != nil {
			break
		}
		if err := s.queue.Enqueue(ctx, source.ID); err != nil {
			s.logger.Warn("enqueue source", zap.String("source_id", source.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		queued++
		if i < len(sources)-1 {
			s.pauser.Pause(ctx, s.cfg.Stagger)
		}
	}
	s.logger.Info("sweep queued sources", zap.Int("queued", queued), zap.Int("eligible", len(sources)))
	return queued, errors.Join(errs...)
}

// Run sweeps immediately and then every Interval until ctx ends.
func (s *Scheduler) Run(ctx context.Context) {
	if s.cfg.Interval <= 0 {
		s.logger.Info("scheduler disabled")
		return
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.Tick(ctx); err != nil {
			s.logger.Error("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
