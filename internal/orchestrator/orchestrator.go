// Package orchestrator runs one source end to end: it acquires a session,
// walks the source's targets in priority order, formats and stores what it
// finds, and hands the totals to the stats tracker.
package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
	"github.com/JakeFAU/funding-crawler/internal/metrics"
)

// State is a step of a run. Transitions are logged at debug.
type State string

// Run states.
const (
	StateIdle             State = "idle"
	StateAcquiringSession State = "acquiring_session"
	StateExtracting       State = "extracting"
	StateFormatting       State = "formatting"
	StatePersisting       State = "persisting"
	StateFinalizing       State = "finalizing"
	StateFailed           State = "failed"
)

// Deps are the collaborators of an Orchestrator. Blobs and Publisher are
// optional.
type Deps struct {
	Targets   crawler.TargetStore
	Sessions  crawler.SessionManager
	Extractor crawler.PageExtractor
	Formatter crawler.Formatter
	Gateway   crawler.DedupGateway
	Stats     crawler.StatsRecorder
	Blobs     crawler.BlobStore
	Publisher crawler.Publisher
	Pauser    crawler.Pauser
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
}

// Config controls Orchestrator behavior.
type Config struct {
	NavigationTimeout time.Duration
	RunTimeout        time.Duration
	// DefaultRateLimit replaces crawler.DefaultRateLimit for targets without
	// their own rate limit.
	DefaultRateLimit time.Duration
	ScreenshotPrefix string
	Topic            string
}

// Orchestrator executes source runs. It is safe for concurrent use; each Run
// owns its own session.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates deps and constructs an Orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Targets == nil:
		return nil, fmt.Errorf("target store is required")
	case deps.Sessions == nil:
		return nil, fmt.Errorf("session manager is required")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("extractor is required")
	case deps.Formatter == nil:
		return nil, fmt.Errorf("formatter is required")
	case deps.Gateway == nil:
		return nil, fmt.Errorf("dedup gateway is required")
	case deps.Stats == nil:
		return nil, fmt.Errorf("stats recorder is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	}
	if deps.Pauser == nil {
		deps.Pauser = crawler.TimerPauser{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger.Named("orchestrator")}, nil
}

// RunByID loads the source and runs it. Only lookup failures and
// crawler.ErrSourceBusy are returned as errors; run failures are reported on
// the RunResult.
func (o *Orchestrator) RunByID(ctx context.Context, sourceID string) (crawler.RunResult, error) {
	source, err := o.deps.Targets.GetSource(ctx, sourceID)
	if err != nil {
		return crawler.RunResult{}, fmt.Errorf("load source: %w", err)
	}
	return o.run(ctx, source)
}

// Run crawls every active target of source and records the outcome. A source
// already held by another run comes back unsuccessful with no targets, and its
// bookkeeping is left to that run.
func (o *Orchestrator) Run(ctx context.Context, source crawler.Source) crawler.RunResult {
	result, err := o.run(ctx, source)
	if err != nil {
		result.Success = false
		result.Err = err.Error()
	}
	return result
}

func (o *Orchestrator) run(ctx context.Context, source crawler.Source) (result crawler.RunResult, err error) {
	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	runID, err := o.deps.IDs.NewID()
	if err != nil {
		o.logger.Warn("generate run id", zap.Error(err))
		runID = fmt.Sprintf("run-%d", o.deps.Clock.Now().UnixNano())
	}
	result = crawler.RunResult{
		RunID:     runID,
		SourceID:  source.ID,
		Success:   true,
		StartedAt: o.deps.Clock.Now(),
		Targets:   []crawler.TargetOutcome{},
	}
	logger := o.logger.With(zap.String("run_id", runID), zap.String("source_id", source.ID))

	if err := o.deps.Stats.Begin(ctx, source.ID); err != nil {
		logger.Info("run skipped", zap.Error(err))
		result.Success = false
		return result, err
	}
	logger.Info("run started", zap.String("region", source.Region))
	defer func() {
		o.finalize(ctx, logger, source, &result)
	}()

	targets, err := o.deps.Targets.ActiveTargets(ctx, source.Region)
	if err != nil {
		o.fail(logger, &result, fmt.Errorf("list targets: %w", err))
		return result, nil
	}
	sortByPriority(targets)

	o.transition(logger, StateAcquiringSession)
	session, err := o.deps.Sessions.Acquire(ctx)
	if err != nil {
		o.fail(logger, &result, err)
		return result, nil
	}
	release := sync.OnceFunc(func() { o.deps.Sessions.Release(session) })
	defer release()

	for i, target := range targets {
		if ctx.Err() != nil {
			logger.Info("run canceled", zap.Int("remaining_targets", len(targets)-i), zap.Error(ctx.Err()))
			break
		}
		outcome := o.processTarget(ctx, logger, session, source, runID, target)
		result.Targets = append(result.Targets, outcome)
		result.OpportunitiesFound += outcome.Stored
		if i < len(targets)-1 {
			o.deps.Pauser.Pause(ctx, o.delay(target))
		}
	}
	release()
	return result, nil
}

// RunAll runs every eligible source in region one after another, pausing
// between sources, and returns the total number of opportunities stored.
func (o *Orchestrator) RunAll(ctx context.Context, region string, between time.Duration) ([]crawler.RunResult, int, error) {
	sources, err := o.deps.Targets.ActiveSources(ctx, region)
	if err != nil {
		return nil, 0, fmt.Errorf("list sources: %w", err)
	}
	o.logger.Info("running all sources", zap.Int("sources", len(sources)), zap.String("region", region))
	results := make([]crawler.RunResult, 0, len(sources))
	total := 0
	for i, source := range sources {
		if ctx.Err() != nil {
			break
		}
		result := o.Run(ctx, source)
		results = append(results, result)
		total += result.OpportunitiesFound
		if i < len(sources)-1 {
			o.deps.Pauser.Pause(ctx, between)
		}
	}
	o.logger.Info("all sources finished", zap.Int("runs", len(results)), zap.Int("opportunities_found", total))
	return results, total, nil
}

func (o *Orchestrator) finalize(ctx context.Context, logger *zap.Logger, source crawler.Source, result *crawler.RunResult) {
	o.transition(logger, StateFinalizing)
	result.Duration = o.deps.Clock.Now().Sub(result.StartedAt)
	o.deps.Stats.Record(ctx, source, result.OpportunitiesFound, result.Success, result.Targets)

	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	metrics.ObserveRun(outcome, result.Duration)
	logger.Info("run finished",
		zap.Bool("success", result.Success),
		zap.Int("opportunities_found", result.OpportunitiesFound),
		zap.Int("targets", len(result.Targets)),
		zap.Duration("duration", result.Duration),
	)
	o.transition(logger, StateIdle)
}

func (o *Orchestrator) fail(logger *zap.Logger, result *crawler.RunResult, err error) {
	o.transition(logger, StateFailed)
	result.Success = false
	result.Err = err.Error()
	logger.Error("run failed", zap.Error(err))
}

func (o *Orchestrator) processTarget(
	ctx context.Context,
	logger *zap.Logger,
	session crawler.Session,
	source crawler.Source,
	runID string,
	target crawler.Target,
) (outcome crawler.TargetOutcome) {
	started := o.deps.Clock.Now()
	outcome = crawler.TargetOutcome{TargetID: target.ID, URL: target.URL, Status: crawler.TargetSuccess}
	logger = logger.With(zap.String("target_url", target.URL))

	defer func() {
		if r := recover(); r != nil {
			outcome.Status = crawler.TargetFailure
			outcome.Err = fmt.Errorf("%w: panic: %v", crawler.ErrUnexpected, r).Error()
			logger.Error("target panicked", zap.Any("panic", r))
		}
		outcome.Duration = o.deps.Clock.Now().Sub(started)
		metrics.ObserveTarget(target.URL, string(outcome.Status))
	}()

	o.transition(logger, StateExtracting)
	page, err := o.deps.Extractor.Extract(ctx, session, target.URL, o.cfg.NavigationTimeout)
	if err != nil {
		outcome.Status = crawler.TargetFailure
		outcome.Err = err.Error()
		logger.Warn("extraction failed", zap.Error(err))
		return outcome
	}
	outcome.ScreenshotURI = o.archiveScreenshot(ctx, logger, runID, target, page)

	o.transition(logger, StateFormatting)
	candidates := o.deps.Formatter.Format(ctx, page, source.Region)
	if len(candidates) == 0 {
		outcome.Status = crawler.TargetSkipped
		logger.Debug("no candidates on page")
		return outcome
	}

	o.transition(logger, StatePersisting)
	for _, candidate := range candidates {
		stored, result, err := o.deps.Gateway.Store(ctx, candidate, target.URL, sourceName(source, target), source.Region)
		switch {
		case err != nil:
			outcome.Failed++
			logger.Warn("store candidate", zap.String("title", candidate.Title), zap.Error(err))
		case result == crawler.StoreAlreadyExists:
			outcome.Duplicates++
		default:
			outcome.Stored++
			o.publish(ctx, logger, runID, source, stored)
		}
	}
	return outcome
}

func (o *Orchestrator) archiveScreenshot(
	ctx context.Context,
	logger *zap.Logger,
	runID string,
	target crawler.Target,
	page crawler.RawPage,
) string {
	if o.deps.Blobs == nil || len(page.Screenshot) == 0 {
		return ""
	}
	uri, err := o.deps.Blobs.PutObject(ctx, o.screenshotPath(runID, target), "image/png", bytes.NewReader(page.Screenshot))
	if err != nil {
		logger.Warn("archive screenshot", zap.Error(err))
		return ""
	}
	return uri
}

func (o *Orchestrator) screenshotPath(runID string, target crawler.Target) string {
	name := target.ID
	if name == "" {
		name = "target"
	}
	return path.Join(strings.Trim(o.cfg.ScreenshotPrefix, "/"), runID, name+".png")
}

func (o *Orchestrator) publish(
	ctx context.Context,
	logger *zap.Logger,
	runID string,
	source crawler.Source,
	stored crawler.StoredOpportunity,
) {
	if o.deps.Publisher == nil || o.cfg.Topic == "" {
		return
	}
	event := crawler.OpportunityEvent{
		OpportunityID: stored.ID,
		Fingerprint:   stored.Fingerprint,
		Title:         stored.Title,
		SourceID:      source.ID,
		SourceURL:     stored.SourceURL,
		Region:        stored.Region,
		RunID:         runID,
		StoredAt:      stored.CreatedAt,
	}
	if _, err := o.deps.Publisher.Publish(ctx, o.cfg.Topic, event); err != nil {
		metrics.ObservePublishFailure()
		logger.Warn("publish opportunity", zap.String("opportunity_id", stored.ID), zap.Error(err))
	}
}

// sourceName is the display name stored with an opportunity: the target's
// own name, or the source's when the target has none.
func sourceName(source crawler.Source, target crawler.Target) string {
	if name := strings.TrimSpace(target.Name); name != "" {
		return name
	}
	return source.Name
}

func (o *Orchestrator) delay(target crawler.Target) time.Duration {
	if target.RateLimit <= 0 && o.cfg.DefaultRateLimit > 0 {
		return o.cfg.DefaultRateLimit
	}
	return target.Delay()
}

func (o *Orchestrator) transition(logger *zap.Logger, state State) {
	logger.Debug("state", zap.String("state", string(state)))
}

// sortByPriority orders targets by priority, highest first, keeping the
// store's order among equals.
func sortByPriority(targets []crawler.Target) {
	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].Priority > targets[j].Priority
	})
}
