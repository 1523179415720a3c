package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/funding-crawler/internal/clock/system"
	"github.com/JakeFAU/funding-crawler/internal/crawler"
	"github.com/JakeFAU/funding-crawler/internal/dedup"
	"github.com/JakeFAU/funding-crawler/internal/formatter"
	"github.com/JakeFAU/funding-crawler/internal/id/uuid"
	pubmem "github.com/JakeFAU/funding-crawler/internal/publisher/memory"
	"github.com/JakeFAU/funding-crawler/internal/stats"
	"github.com/JakeFAU/funding-crawler/internal/storage/memory"
)

const (
	kenyaURL    = "https://grants.example.ke/calls"
	embassyURL  = "https://embassy.example.ke/contact"
	farmFundURL = "https://farms.example.ke/fund"
)

type harness struct {
	registry *memory.Registry
	opps     *memory.OpportunityStore
	blobs    *memory.BlobStore
	pub      *pubmem.Publisher
	sessions *fakeSessions
	extract  *fakeExtractor
	pauser   *fakePauser
	orch     *Orchestrator
}

func newHarness(t *testing.T, targets []crawler.Target) *harness {
	t.Helper()
	clock := system.NewFrozen(time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	h := &harness{
		registry: memory.NewRegistry([]crawler.Source{{ID: "bot-ke", Name: "Kenya Bot", Region: "Kenya"}}, targets),
		opps:     memory.NewOpportunityStore(),
		blobs:    memory.NewBlobStore(),
		pub:      pubmem.New(),
		sessions: &fakeSessions{},
		extract:  &fakeExtractor{pages: map[string]crawler.RawPage{}, errs: map[string]error{}},
		pauser:   &fakePauser{},
	}
	gw, err := dedup.New(h.opps, clock, nil)
	require.NoError(t, err)
	tracker, err := stats.New(h.registry, clock, nil)
	require.NoError(t, err)
	h.orch, err = New(Deps{
		Targets:   h.registry,
		Sessions:  h.sessions,
		Extractor: h.extract,
		Formatter: formatter.New(nil, 0, nil),
		Gateway:   gw,
		Stats:     tracker,
		Blobs:     h.blobs,
		Publisher: h.pub,
		Pauser:    h.pauser,
		Clock:     clock,
		IDs:       uuid.New(),
	}, Config{ScreenshotPrefix: "screenshots", Topic: "opportunities"}, nil)
	require.NoError(t, err)
	return h
}

func (h *harness) source(t *testing.T) crawler.Source {
	t.Helper()
	src, err := h.registry.GetSource(context.Background(), "bot-ke")
	require.NoError(t, err)
	return src
}

func TestRunKenyaEndToEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []crawler.Target{
		{ID: "t1", Region: "Kenya", URL: kenyaURL, Name: "Kenya Community Foundation", Priority: 2, Active: true},
		{ID: "t2", Region: "Kenya", URL: embassyURL, Name: "Embassy", Priority: 1, Active: true},
	})
	h.extract.pages[kenyaURL] = crawler.RawPage{
		URL:        kenyaURL,
		Title:      "Kenya Community Fund",
		Text:       "Grant deadline March 2025, amount $50,000",
		Screenshot: []byte("png-bytes"),
	}
	h.extract.pages[embassyURL] = crawler.RawPage{URL: embassyURL, Title: "Contact", Text: "Office hours are 9 to 5 on weekdays"}

	result := h.orch.Run(context.Background(), h.source(t))
	require.True(t, result.Success)
	require.Equal(t, 1, result.OpportunitiesFound)
	require.NotEmpty(t, result.RunID)
	require.Len(t, result.Targets, 2)
	require.Equal(t, crawler.TargetSuccess, result.Targets[0].Status)
	require.Equal(t, 1, result.Targets[0].Stored)
	require.Equal(t, "memory://screenshots/"+result.RunID+"/t1.png", result.Targets[0].ScreenshotURI)
	require.Equal(t, crawler.TargetSkipped, result.Targets[1].Status)
	require.Zero(t, result.Targets[1].Stored)

	rows := h.opps.All()
	require.Len(t, rows, 1)
	require.Equal(t, "Kenya Community Fund", rows[0].Title)
	require.Equal(t, 50000.0, *rows[0].AmountMin)
	require.Equal(t, "Kenya", rows[0].Region)
	require.Equal(t, kenyaURL, rows[0].SourceURL)
	require.Equal(t, "Kenya Community Foundation", rows[0].SourceName)

	src := h.source(t)
	require.Equal(t, 1, src.OpportunitiesFound)
	require.Equal(t, 10, src.RewardPoints)
	require.Equal(t, crawler.SourceStatusActive, src.Status)
	require.Equal(t, []crawler.SourceStatus{crawler.SourceStatusRunning, crawler.SourceStatusActive}, h.registry.StatusHistory("bot-ke"))

	events := h.pub.Events()
	require.Len(t, events, 1)
	require.Equal(t, result.RunID, events[0].RunID)
	require.Equal(t, rows[0].ID, events[0].OpportunityID)

	require.Equal(t, int32(1), h.sessions.acquired.Load())
	require.Equal(t, int32(1), h.sessions.released.Load())
	require.Equal(t, []time.Duration{crawler.DefaultRateLimit}, h.pauser.delays)

	again := h.orch.Run(context.Background(), h.source(t))
	require.True(t, again.Success)
	require.Zero(t, again.OpportunitiesFound)
	require.Equal(t, 1, again.Targets[0].Duplicates)
	require.Equal(t, 1, h.opps.Len())
}

func TestRunVisitsTargetsByPriority(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []crawler.Target{
		{ID: "p1", Region: "Kenya", URL: "https://a.example/1", Priority: 1, Active: true, RateLimit: time.Second},
		{ID: "p5", Region: "Kenya", URL: "https://a.example/5", Priority: 5, Active: true, RateLimit: 2 * time.Second},
		{ID: "p3", Region: "Kenya", URL: "https://a.example/3", Priority: 3, Active: true},
	})

	result := h.orch.Run(context.Background(), h.source(t))
	require.True(t, result.Success)
	require.Equal(t, []string{"https://a.example/5", "https://a.example/3", "https://a.example/1"}, h.extract.visited())
	require.Equal(t, []time.Duration{2 * time.Second, crawler.DefaultRateLimit}, h.pauser.delays)
	for _, outcome := range result.Targets {
		require.Equal(t, crawler.TargetSkipped, outcome.Status)
	}
}

func TestConfiguredDefaultRateLimit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []crawler.Target{
		{ID: "a", Region: "Kenya", URL: "https://a.example", Priority: 2, Active: true},
		{ID: "b", Region: "Kenya", URL: "https://b.example", Priority: 1, Active: true},
	})
	h.orch.cfg.DefaultRateLimit = 5 * time.Second
	h.orch.Run(context.Background(), h.source(t))
	require.Equal(t, []time.Duration{5 * time.Second}, h.pauser.delays)
}

func TestSortByPriorityIsStable(t *testing.T) {
	t.Parallel()

	targets := []crawler.Target{{ID: "a", Priority: 2}, {ID: "b", Priority: 5}, {ID: "c", Priority: 2}}
	sortByPriority(targets)
	require.Equal(t, "b", targets[0].ID)
	require.Equal(t, "a", targets[1].ID)
	require.Equal(t, "c", targets[2].ID)
}

func TestRunIsolatesTargetFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []crawler.Target{
		{ID: "first", Region: "Kenya", URL: kenyaURL, Priority: 3, Active: true},
		{ID: "broken", Region: "Kenya", URL: "https://broken.example", Priority: 2, Active: true},
		{ID: "third", Region: "Kenya", URL: farmFundURL, Priority: 1, Active: true},
	})
	h.extract.pages[kenyaURL] = crawler.RawPage{URL: kenyaURL, Title: "Kenya Community Fund", Text: "Grant deadline March 2025, amount $50,000"}
	h.extract.errs["https://broken.example"] = fmt.Errorf("%w: https://broken.example: websocket closed", crawler.ErrDriverFault)
	h.extract.pages[farmFundURL] = crawler.RawPage{URL: farmFundURL, Title: "Farm Fund", Text: "Funding opportunity for farmers, grants up to $10,000"}

	result := h.orch.Run(context.Background(), h.source(t))
	require.True(t, result.Success)
	require.Equal(t, 2, result.OpportunitiesFound)
	require.Len(t, result.Targets, 3)
	require.Equal(t, crawler.TargetSuccess, result.Targets[0].Status)
	require.Equal(t, crawler.TargetFailure, result.Targets[1].Status)
	require.Contains(t, result.Targets[1].Err, "driver fault")
	require.Equal(t, crawler.TargetSuccess, result.Targets[2].Status)

	var titles []string
	for _, row := range h.opps.All() {
		titles = append(titles, row.Title)
	}
	require.ElementsMatch(t, []string{"Kenya Community Fund", "Farm Fund"}, titles)
	require.Equal(t, int32(1), h.sessions.released.Load())
}

func TestRunReleasesSessionOnceOnExtractionErrors(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		err  error
		want string
	}{
		{name: "navigation timeout", err: fmt.Errorf("%w: %s: %w", crawler.ErrNavigationTimeout, kenyaURL, context.DeadlineExceeded), want: "navigation timeout"},
		{name: "driver fault", err: fmt.Errorf("%w: %s: target closed", crawler.ErrDriverFault, kenyaURL), want: "driver fault"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, []crawler.Target{{ID: "t1", Region: "Kenya", URL: kenyaURL, Active: true}})
			h.extract.errs[kenyaURL] = tc.err

			result := h.orch.Run(context.Background(), h.source(t))
			require.True(t, result.Success)
			require.Equal(t, crawler.TargetFailure, result.Targets[0].Status)
			require.Contains(t, result.Targets[0].Err, tc.want)
			require.Equal(t, int32(1), h.sessions.acquired.Load())
			require.Equal(t, int32(1), h.sessions.released.Load())
		})
	}
}

func TestRunStoresSourceNameWhenTargetIsUnnamed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []crawler.Target{{ID: "t1", Region: "Kenya", URL: kenyaURL, Active: true}})
	h.extract.pages[kenyaURL] = crawler.RawPage{URL: kenyaURL, Title: "Kenya Community Fund", Text: "Grant deadline March 2025, amount $50,000"}

	h.orch.Run(context.Background(), h.source(t))
	rows := h.opps.All()
	require.Len(t, rows, 1)
	require.Equal(t, "Kenya Bot", rows[0].SourceName)
}

func TestRunSkipsSourceAlreadyRunning(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []crawler.Target{{ID: "t1", Region: "Kenya", URL: kenyaURL, Active: true}})
	src := h.source(t)
	require.NoError(t, h.registry.ClaimSource(context.Background(), src.ID))

	result := h.orch.Run(context.Background(), src)
	require.False(t, result.Success)
	require.Contains(t, result.Err, "already running")
	require.Empty(t, result.Targets)
	require.Zero(t, h.sessions.acquired.Load())
	require.Empty(t, h.extract.visited())

	_, err := h.orch.RunByID(context.Background(), src.ID)
	require.ErrorIs(t, err, crawler.ErrSourceBusy)

	got := h.source(t)
	require.Equal(t, crawler.SourceStatusRunning, got.Status)
	require.Zero(t, got.ErrorCount)
	require.Empty(t, h.registry.Runs())
}

func TestRunReleasesSessionOnceWhenExtractionPanics(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []crawler.Target{
		{ID: "boom", Region: "Kenya", URL: "https://boom.example", Priority: 2, Active: true},
		{ID: "next", Region: "Kenya", URL: "https://next.example", Priority: 1, Active: true},
	})
	h.extract.panicOn = "https://boom.example"

	var result crawler.RunResult
	require.NotPanics(t, func() { result = h.orch.Run(context.Background(), h.source(t)) })
	require.True(t, result.Success)
	require.Equal(t, crawler.TargetFailure, result.Targets[0].Status)
	require.Contains(t, result.Targets[0].Err, "unexpected")
	require.Len(t, result.Targets, 2)
	require.Equal(t, int32(1), h.sessions.released.Load())
}

func TestRunSessionFailureFailsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []crawler.Target{{ID: "t1", Region: "Kenya", URL: kenyaURL, Active: true}})
	h.sessions.err = crawler.ErrSessionCreation

	result := h.orch.Run(context.Background(), h.source(t))
	require.False(t, result.Success)
	require.Contains(t, result.Err, "session")
	require.Empty(t, result.Targets)
	require.Zero(t, h.sessions.released.Load())
	require.Empty(t, h.extract.visited())

	src := h.source(t)
	require.Equal(t, 1, src.ErrorCount)
	require.Equal(t, crawler.SourceStatusError, src.Status)
}

func TestRunTargetListingFailureFailsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.orch.deps.Targets = failingTargets{Registry: h.registry}

	result := h.orch.Run(context.Background(), h.source(t))
	require.False(t, result.Success)
	require.Contains(t, result.Err, "list targets")
	require.Zero(t, h.sessions.acquired.Load())
}

func TestRunCanceledStopsLoopButReleases(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []crawler.Target{
		{ID: "a", Region: "Kenya", URL: "https://a.example", Priority: 2, Active: true},
		{ID: "b", Region: "Kenya", URL: "https://b.example", Priority: 1, Active: true},
	})
	ctx, cancel := context.WithCancel(context.Background())
	h.pauser.onPause = cancel

	result := h.orch.Run(ctx, h.source(t))
	require.True(t, result.Success)
	require.Len(t, result.Targets, 1)
	require.Equal(t, int32(1), h.sessions.released.Load())
	require.Equal(t, crawler.SourceStatusActive, h.source(t).Status)
}

func TestRunPublishFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []crawler.Target{{ID: "t1", Region: "Kenya", URL: kenyaURL, Active: true}})
	h.extract.pages[kenyaURL] = crawler.RawPage{URL: kenyaURL, Title: "Kenya Community Fund", Text: "grant funding"}
	h.pub.FailWith(errors.New("broker down"))

	result := h.orch.Run(context.Background(), h.source(t))
	require.True(t, result.Success)
	require.Equal(t, 1, result.OpportunitiesFound)
}

func TestRunAllRunsEverySource(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []crawler.Target{{ID: "t1", Region: "Kenya", URL: kenyaURL, Active: true}})
	h.extract.pages[kenyaURL] = crawler.RawPage{URL: kenyaURL, Title: "Kenya Community Fund", Text: "Grant deadline March 2025, amount $50,000"}
	h.orch.deps.Targets = memory.NewRegistry([]crawler.Source{
		{ID: "bot-ke", Name: "Kenya Bot", Region: "Kenya"},
		{ID: "bot-ke-2", Name: "Kenya Bot 2", Region: "Kenya"},
	}, []crawler.Target{{ID: "t1", Region: "Kenya", URL: kenyaURL, Active: true}})

	results, total, err := h.orch.RunAll(context.Background(), "Kenya", 5*time.Second)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, 1, total)
	require.Equal(t, []time.Duration{5 * time.Second}, h.pauser.delays)
}

func TestRunByIDUnknownSource(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	_, err := h.orch.RunByID(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestNewRequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, Config{}, nil)
	require.Error(t, err)
}

// --- fakes ---

type fakeSession struct{}

func (fakeSession) Navigate(context.Context, string) error { return nil }

func (fakeSession) Snapshot(context.Context) (crawler.PageSnapshot, error) {
	return crawler.PageSnapshot{}, nil
}

func (fakeSession) Screenshot(context.Context) ([]byte, error) { return nil, nil }

type fakeSessions struct {
	err      error
	acquired atomic.Int32
	released atomic.Int32
}

func (f *fakeSessions) Acquire(context.Context) (crawler.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.acquired.Add(1)
	return fakeSession{}, nil
}

func (f *fakeSessions) Release(crawler.Session) {
	f.released.Add(1)
}

type fakeExtractor struct {
	mu      sync.Mutex
	pages   map[string]crawler.RawPage
	errs    map[string]error
	panicOn string
	urls    []string
}

func (f *fakeExtractor) Extract(_ context.Context, _ crawler.Session, url string, _ time.Duration) (crawler.RawPage, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()
	if url == f.panicOn {
		panic("driver exploded")
	}
	if err, ok := f.errs[url]; ok {
		return crawler.RawPage{}, err
	}
	if page, ok := f.pages[url]; ok {
		return page, nil
	}
	return crawler.RawPage{URL: url, Title: "Nothing", Text: "about us"}, nil
}

func (f *fakeExtractor) visited() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

type fakePauser struct {
	delays  []time.Duration
	onPause func()
}

func (f *fakePauser) Pause(_ context.Context, delay time.Duration) {
	f.delays = append(f.delays, delay)
	if f.onPause != nil {
		f.onPause()
	}
}

type failingTargets struct {
	*memory.Registry
}

func (failingTargets) ActiveTargets(context.Context, string) ([]crawler.Target, error) {
	return nil, errors.New("relation search_targets does not exist")
}
