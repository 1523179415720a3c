package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
)

// TargetStore reads sources (search_bots) and targets (search_targets).
type TargetStore struct {
	pool dbPool
}

// NewTargetStore wraps pool.
func NewTargetStore(pool dbPool) (*TargetStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &TargetStore{pool: pool}, nil
}

// Ping checks connectivity; used by readiness probes.
func (s *TargetStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

const sourceColumns = `bot_id::text, name, country, status, last_run,
	total_opportunities_found, error_count, total_reward_points`

// ActiveSources lists sources eligible to run, optionally limited to region.
// Sources left in the error state stay eligible so the next run can retry.
func (s *TargetStore) ActiveSources(ctx context.Context, region string) ([]crawler.Source, error) {
	query := `SELECT ` + sourceColumns + `
FROM search_bots
WHERE status IN ('active', 'error') AND ($1 = '' OR country = $1)
ORDER BY country, name`
	rows, err := s.pool.Query(ctx, query, region)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var sources []crawler.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return sources, nil
}

// GetSource loads one source by id.
func (s *TargetStore) GetSource(ctx context.Context, sourceID string) (crawler.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM search_bots WHERE bot_id = $1`
	src, err := scanSource(s.pool.QueryRow(ctx, query, sourceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Source{}, fmt.Errorf("source %s: %w", sourceID, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Source{}, err
	}
	return src, nil
}

func scanSource(row pgx.Row) (crawler.Source, error) {
	var (
		src    crawler.Source
		status string
		last   *time.Time
	)
	if err := row.Scan(
		&src.ID,
		&src.Name,
		&src.Region,
		&status,
		&last,
		&src.OpportunitiesFound,
		&src.ErrorCount,
		&src.RewardPoints,
	); err != nil {
		return crawler.Source{}, fmt.Errorf("scan source: %w", err)
	}
	src.Status = crawler.SourceStatus(status)
	src.LastRun = last
	return src, nil
}

// ActiveTargets lists active targets for region, highest priority first.
func (s *TargetStore) ActiveTargets(ctx context.Context, region string) ([]crawler.Target, error) {
	query := `SELECT id::text, country, url, name, priority, rate_limit, is_active
FROM search_targets
WHERE country = $1 AND is_active = true
ORDER BY priority DESC`
	rows, err := s.pool.Query(ctx, query, region)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()

	var targets []crawler.Target
	for rows.Next() {
		var (
			t         crawler.Target
			rateLimit *int
		)
		if err := rows.Scan(&t.ID, &t.Region, &t.URL, &t.Name, &t.Priority, &rateLimit, &t.Active); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		if rateLimit != nil {
			t.RateLimit = time.Duration(*rateLimit) * time.Second
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate targets: %w", err)
	}
	return targets, nil
}
