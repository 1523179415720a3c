// Package formatter turns extracted pages into typed funding-opportunity
// candidates, using an AI completion endpoint with a deterministic fallback.
package formatter

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
	"github.com/JakeFAU/funding-crawler/internal/metrics"
)

// Completer is the AI completion call the formatter depends on.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Formatter implements crawler.Formatter.
type Formatter struct {
	ai          Completer
	promptChars int
	logger      *zap.Logger
}

// New returns a Formatter. A nil ai disables the primary path entirely.
func New(ai Completer, promptChars int, logger *zap.Logger) *Formatter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Formatter{ai: ai, promptChars: promptChars, logger: logger.Named("formatter")}
}

// Format returns candidates for page. Any AI failure falls back to Heuristic;
// the result is never nil.
func (f *Formatter) Format(ctx context.Context, page crawler.RawPage, regionHint string) []crawler.CandidateOpportunity {
	candidates, err := f.viaAI(ctx, page, regionHint)
	if err == nil {
		metrics.ObserveFormatter("ai", "")
		return candidates
	}
	why := reason(err)
	metrics.ObserveFormatter("fallback", why)
	f.logger.Info("ai formatting unavailable, using heuristic",
		zap.String("target_url", page.URL),
		zap.String("reason", why),
		zap.Error(err),
	)
	return Heuristic(page)
}

func (f *Formatter) viaAI(ctx context.Context, page crawler.RawPage, regionHint string) ([]crawler.CandidateOpportunity, error) {
	if f.ai == nil {
		return nil, errMissingKey
	}
	content, err := f.ai.Complete(ctx, BuildPrompt(page, regionHint, f.promptChars))
	if err != nil {
		return nil, err
	}
	return parseCandidates(content, f.logger)
}
