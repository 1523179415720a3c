package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
)

// OpportunityStore writes donor_opportunities rows. The content_hash unique
// constraint is the integrity backstop for deduplication.
type OpportunityStore struct {
	pool dbPool
}

// NewOpportunityStore wraps pool.
func NewOpportunityStore(pool dbPool) (*OpportunityStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &OpportunityStore{pool: pool}, nil
}

const insertOpportunity = `
INSERT INTO donor_opportunities (
	title,
	description,
	deadline,
	amount_min,
	amount_max,
	currency,
	source_url,
	source_name,
	country,
	sector,
	eligibility_criteria,
	application_process,
	contact_email,
	contact_phone,
	keywords,
	focus_areas,
	content_hash,
	is_verified,
	verification_score,
	is_active,
	scraped_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21
)
ON CONFLICT (content_hash) DO NOTHING
RETURNING id::text`

// InsertIfAbsent inserts opp in one statement. inserted is false when a row
// with the same fingerprint already exists, whether the conflict was absorbed
// by ON CONFLICT or surfaced as a unique violation.
func (s *OpportunityStore) InsertIfAbsent(ctx context.Context, opp crawler.StoredOpportunity) (string, bool, error) {
	if opp.Fingerprint == "" {
		return "", false, fmt.Errorf("fingerprint is required")
	}
	keywords, err := marshalSet(opp.Keywords)
	if err != nil {
		return "", false, fmt.Errorf("marshal keywords: %w", err)
	}
	focusAreas, err := marshalSet(opp.FocusAreas)
	if err != nil {
		return "", false, fmt.Errorf("marshal focus areas: %w", err)
	}

	var id string
	err = s.pool.QueryRow(ctx, insertOpportunity,
		opp.Title,
		opp.Description,
		opp.Deadline,
		opp.AmountMin,
		opp.AmountMax,
		opp.Currency,
		opp.SourceURL,
		opp.SourceName,
		opp.Region,
		opp.Sector,
		opp.EligibilityCriteria,
		opp.ApplicationProcess,
		opp.ContactEmail,
		opp.ContactPhone,
		keywords,
		focusAreas,
		opp.Fingerprint,
		opp.Verified,
		opp.VerificationScore,
		opp.Active,
		opp.ScrapedAt,
	).Scan(&id)
	switch {
	case errors.Is(err, pgx.ErrNoRows), isUniqueViolation(err):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("insert opportunity: %w", err)
	}
	return id, true, nil
}

func marshalSet(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}
