package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
)

// StatsStore applies run bookkeeping to search_bots, bot_rewards, and
// search_statistics. Counters are incremented in SQL, never read-modify-write.
type StatsStore struct {
	pool dbPool
}

// NewStatsStore wraps pool.
func NewStatsStore(pool dbPool) (*StatsStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &StatsStore{pool: pool}, nil
}

const claimSource = `
UPDATE search_bots
SET status = 'running'
WHERE bot_id = $1 AND status IS DISTINCT FROM 'running'`

// ClaimSource moves search_bots.status to running in one conditional update.
// When no row changes, a second lookup tells a busy source from a missing one.
func (s *StatsStore) ClaimSource(ctx context.Context, sourceID string) error {
	tag, err := s.pool.Exec(ctx, claimSource, sourceID)
	if err != nil {
		return fmt.Errorf("claim source: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM search_bots WHERE bot_id = $1)`, sourceID).Scan(&exists); err != nil {
		return fmt.Errorf("look up source: %w", err)
	}
	if !exists {
		return fmt.Errorf("source %s: %w", sourceID, crawler.ErrNotFound)
	}
	return fmt.Errorf("source %s: %w", sourceID, crawler.ErrSourceBusy)
}

const updateRunCounters = `
UPDATE search_bots
SET last_run = $1,
	total_opportunities_found = total_opportunities_found + $2,
	error_count = error_count + CASE WHEN $3 THEN 0 ELSE 1 END,
	total_reward_points = total_reward_points + $4,
	status = $5
WHERE bot_id = $6`

const insertReward = `
INSERT INTO bot_rewards (bot_id, country, opportunities_found, reward_points, created_at)
VALUES ($1, $2, $3, $4, $5)`

const insertTargetStats = `
INSERT INTO search_statistics (
	bot_id, target_id, search_date, opportunities_found, processing_time, success, error_message
) VALUES ($1, $2, $3, $4, $5, $6, $7)`

// RecordRun applies stats in one transaction: counters and status on the
// source, a reward ledger row when points were earned, and one statistics row
// per visited target.
func (s *StatsStore) RecordRun(ctx context.Context, stats crawler.RunStats) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin stats tx: %w", err)
	}

	tag, err := tx.Exec(ctx, updateRunCounters,
		stats.FinishedAt,
		stats.Found,
		stats.Success,
		stats.RewardPoints,
		string(stats.Status),
		stats.SourceID,
	)
	if err != nil {
		return rollback(ctx, tx, fmt.Errorf("update run counters: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return rollback(ctx, tx, fmt.Errorf("source %s: %w", stats.SourceID, crawler.ErrNotFound))
	}

	if stats.RewardPoints > 0 {
		if _, err := tx.Exec(ctx, insertReward,
			stats.SourceID, stats.Region, stats.Found, stats.RewardPoints, stats.FinishedAt,
		); err != nil {
			return rollback(ctx, tx, fmt.Errorf("insert reward: %w", err))
		}
	}

	for _, target := range stats.Targets {
		var errMsg *string
		if target.Err != "" {
			msg := target.Err
			errMsg = &msg
		}
		if _, err := tx.Exec(ctx, insertTargetStats,
			stats.SourceID,
			target.TargetID,
			stats.FinishedAt,
			target.Stored,
			target.Duration.Milliseconds(),
			target.Status != crawler.TargetFailure,
			errMsg,
		); err != nil {
			return rollback(ctx, tx, fmt.Errorf("insert target statistics: %w", err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit stats tx: %w", err)
	}
	return nil
}
