// Package stats applies per-source run bookkeeping: status transitions, the
// counters on the source row, and the reward ledger.
package stats

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
	"github.com/JakeFAU/funding-crawler/internal/metrics"
)

// PointsPerOpportunity is the reward credited for each opportunity found by a
// successful run.
const PointsPerOpportunity = 10

// Tracker implements crawler.StatsRecorder on top of a StatsStore.
type Tracker struct {
	store  crawler.StatsStore
	clock  crawler.Clock
	logger *zap.Logger
}

var _ crawler.StatsRecorder = (*Tracker)(nil)

// New constructs a Tracker.
func New(store crawler.StatsStore, clock crawler.Clock, logger *zap.Logger) (*Tracker, error) {
	if store == nil {
		return nil, fmt.Errorf("stats store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, clock: clock, logger: logger.Named("stats")}, nil
}

// Begin claims the source for a run. It returns an error wrapping
// crawler.ErrSourceBusy when another run holds the source; any other store
// failure is logged and the run goes ahead.
func (t *Tracker) Begin(ctx context.Context, sourceID string) error {
	ctx = context.WithoutCancel(ctx)
	err := t.store.ClaimSource(ctx, sourceID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, crawler.ErrSourceBusy):
		return err
	default:
		t.fail(sourceID, "mark running", err)
		return nil
	}
}

// Record applies the outcome of a finished run. Writes ignore ctx
// cancellation.
func (t *Tracker) Record(ctx context.Context, source crawler.Source, found int, success bool, targets []crawler.TargetOutcome) {
	ctx = context.WithoutCancel(ctx)
	stats := crawler.RunStats{
		SourceID:     source.ID,
		Region:       source.Region,
		Found:        found,
		Success:      success,
		RewardPoints: Reward(found, success),
		Status:       crawler.SourceStatusActive,
		FinishedAt:   t.clock.Now(),
		Targets:      targets,
	}
	if !success {
		stats.Status = crawler.SourceStatusError
	}
	if err := t.store.RecordRun(ctx, stats); err != nil {
		t.fail(source.ID, "record run", err)
		return
	}
	t.logger.Info("run recorded",
		zap.String("source_id", source.ID),
		zap.Int("found", found),
		zap.Bool("success", success),
		zap.Int("reward_points", stats.RewardPoints),
	)
}

// Reward returns the points credited for a run.
func Reward(found int, success bool) int {
	if !success || found <= 0 {
		return 0
	}
	return PointsPerOpportunity * found
}

func (t *Tracker) fail(sourceID, op string, err error) {
	metrics.ObserveStatsWriteFailure()
	t.logger.Error("stats write failed",
		zap.String("source_id", sourceID),
		zap.String("op", op),
		zap.Error(fmt.Errorf("%w: %w", crawler.ErrStatsWrite, err)),
	)
}
