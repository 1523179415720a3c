// Package dedup stores candidate opportunities at most once per content
// fingerprint.
package dedup

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
	"github.com/JakeFAU/funding-crawler/internal/hash/md5"
	"github.com/JakeFAU/funding-crawler/internal/metrics"
)

// Verification defaults for scraped rows.
const (
	scrapedVerificationScore = 0.8
)

// Gateway fingerprints candidates and hands them to the repository's
// conditional insert.
type Gateway struct {
	repo   crawler.OpportunityRepository
	clock  crawler.Clock
	logger *zap.Logger
}

var _ crawler.DedupGateway = (*Gateway)(nil)

// New constructs a Gateway.
func New(repo crawler.OpportunityRepository, clock crawler.Clock, logger *zap.Logger) (*Gateway, error) {
	if repo == nil {
		return nil, fmt.Errorf("opportunity repository is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{repo: repo, clock: clock, logger: logger.Named("dedup")}, nil
}

// Store persists a scraped candidate.
func (g *Gateway) Store(
	ctx context.Context,
	candidate crawler.CandidateOpportunity,
	sourceURL, sourceName, region string,
) (crawler.StoredOpportunity, crawler.StoreOutcome, error) {
	return g.store(ctx, candidate, sourceURL, sourceName, region, crawler.ProvenanceScraped)
}

// StoreSubmitted persists a user-submitted candidate. Those rows start
// unverified.
func (g *Gateway) StoreSubmitted(
	ctx context.Context,
	candidate crawler.CandidateOpportunity,
	sourceURL, sourceName, region string,
) (crawler.StoredOpportunity, crawler.StoreOutcome, error) {
	return g.store(ctx, candidate, sourceURL, sourceName, region, crawler.ProvenanceUser)
}

func (g *Gateway) store(
	ctx context.Context,
	candidate crawler.CandidateOpportunity,
	sourceURL, sourceName, region string,
	provenance crawler.Provenance,
) (crawler.StoredOpportunity, crawler.StoreOutcome, error) {
	now := g.clock.Now()
	opp := crawler.StoredOpportunity{
		Fingerprint:          md5.Fingerprint(candidate.Title, candidate.Description, sourceURL),
		SourceURL:            sourceURL,
		SourceName:           sourceName,
		Region:               region,
		Active:               true,
		CreatedAt:            now,
		ScrapedAt:            now,
		Provenance:           provenance,
		CandidateOpportunity: candidate,
	}
	if provenance == crawler.ProvenanceScraped {
		opp.Verified = true
		opp.VerificationScore = scrapedVerificationScore
	}

	id, inserted, err := g.repo.InsertIfAbsent(ctx, opp)
	if err != nil {
		metrics.ObservePersistence("failed")
		g.logger.Warn("persist opportunity",
			zap.String("content_hash", opp.Fingerprint),
			zap.String("source_url", sourceURL),
			zap.Error(err),
		)
		return crawler.StoredOpportunity{}, "", fmt.Errorf("%w: %w", crawler.ErrPersistenceFailed, err)
	}
	if !inserted {
		metrics.ObservePersistence(string(crawler.StoreAlreadyExists))
		g.logger.Debug("duplicate opportunity", zap.String("content_hash", opp.Fingerprint))
		return opp, crawler.StoreAlreadyExists, nil
	}
	opp.ID = id
	metrics.ObservePersistence(string(crawler.StoreStored))
	return opp, crawler.StoreStored, nil
}
