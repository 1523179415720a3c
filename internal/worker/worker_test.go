package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
)

func TestWorkerRunsDequeuedSources(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := newFakeQueue(crawler.QueueItem{SourceID: "bot-1"}, crawler.QueueItem{SourceID: "bot-2"})
	runner := &fakeRunner{results: map[string]crawler.RunResult{}}
	w := New(1, queue, runner, Config{}, zap.NewNop())

	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return len(runner.calls()) == 2
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"bot-1", "bot-2"}, runner.calls())
}

func TestWorkerRequeuesRunsThatNeverStarted(t *testing.T) {
	t.Parallel()

	queue := newFakeQueue()
	runner := &fakeRunner{results: map[string]crawler.RunResult{
		"bot-1": {SourceID: "bot-1", Success: false, Err: "session creation failed"},
	}}
	w := New(1, queue, runner, Config{MaxAttempts: 2}, nil)

	w.process(context.Background(), crawler.QueueItem{SourceID: "bot-1"})
	require.Equal(t, []crawler.QueueItem{{SourceID: "bot-1", Attempt: 1}}, queue.enqueued())

	w.process(context.Background(), crawler.QueueItem{SourceID: "bot-1", Attempt: 1})
	require.Len(t, queue.enqueued(), 1)
}

func TestWorkerDoesNotRequeuePartialRuns(t *testing.T) {
	t.Parallel()

	queue := newFakeQueue()
	runner := &fakeRunner{results: map[string]crawler.RunResult{
		"bot-1": {Success: false, Targets: []crawler.TargetOutcome{{Status: crawler.TargetFailure}}},
	}}
	w := New(1, queue, runner, Config{MaxAttempts: 3}, nil)
	w.process(context.Background(), crawler.QueueItem{SourceID: "bot-1"})
	require.Empty(t, queue.enqueued())
}

func TestWorkerSurvivesRunnerErrors(t *testing.T) {
	t.Parallel()

	queue := newFakeQueue()
	runner := &fakeRunner{err: fmt.Errorf("load source: %w", crawler.ErrNotFound)}
	w := New(1, queue, runner, Config{MaxAttempts: 3}, nil)
	w.process(context.Background(), crawler.QueueItem{SourceID: "ghost"})
	require.Empty(t, queue.enqueued())
}

func TestWorkerStopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	queue := newFakeQueue()
	queue.closed = true
	done := make(chan struct{})
	go func() {
		New(1, queue, &fakeRunner{}, Config{}, nil).Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on closed queue")
	}
}

func TestWorkerBacksOffWhenDequeueFails(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &brokenQueue{err: errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")}
	w := New(1, queue, &fakeRunner{}, Config{Backoff: time.Second, MaxBackoff: 4 * time.Second}, nil)
	pauser := &recordingPauser{stopAfter: 5, stop: cancel}
	w.pauser = pauser

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second, 4 * time.Second}, pauser.recorded())
	require.Equal(t, int32(6), queue.calls.Load())
}

func TestWorkerBackoffDefaults(t *testing.T) {
	t.Parallel()

	w := New(1, newFakeQueue(), &fakeRunner{}, Config{}, nil)
	require.Equal(t, DefaultBackoff, w.nextBackoff(0))
	require.Equal(t, DefaultMaxBackoff, w.nextBackoff(DefaultMaxBackoff))
}

func TestWorkerDoesNotRequeueBusySources(t *testing.T) {
	t.Parallel()

	queue := newFakeQueue()
	runner := &fakeRunner{err: fmt.Errorf("source bot-1: %w", crawler.ErrSourceBusy)}
	w := New(1, queue, runner, Config{MaxAttempts: 3}, nil)
	w.process(context.Background(), crawler.QueueItem{SourceID: "bot-1"})
	require.Empty(t, queue.enqueued())
}

// --- fakes ---

type brokenQueue struct {
	err   error
	calls atomic.Int32
}

func (q *brokenQueue) Enqueue(context.Context, crawler.QueueItem) error { return q.err }

func (q *brokenQueue) Dequeue(context.Context) (crawler.QueueItem, error) {
	q.calls.Add(1)
	return crawler.QueueItem{}, q.err
}

type recordingPauser struct {
	mu        sync.Mutex
	delays    []time.Duration
	stopAfter int
	stop      func()
}

func (p *recordingPauser) Pause(_ context.Context, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays = append(p.delays, delay)
	if len(p.delays) == p.stopAfter {
		p.stop()
	}
}

func (p *recordingPauser) recorded() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.delays...)
}

type fakeQueue struct {
	mu     sync.Mutex
	items  []crawler.QueueItem
	pushed []crawler.QueueItem
	closed bool
}

func newFakeQueue(items ...crawler.QueueItem) *fakeQueue {
	return &fakeQueue{items: items}
}

func (q *fakeQueue) Enqueue(_ context.Context, item crawler.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushed = append(q.pushed, item)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return crawler.QueueItem{}, crawler.ErrQueueClosed
	}
	if len(q.items) > 0 {
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		return item, nil
	}
	q.mu.Unlock()
	<-ctx.Done()
	return crawler.QueueItem{}, ctx.Err()
}

func (q *fakeQueue) enqueued() []crawler.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]crawler.QueueItem(nil), q.pushed...)
}

type fakeRunner struct {
	mu      sync.Mutex
	results map[string]crawler.RunResult
	err     error
	seen    []string
}

func (r *fakeRunner) RunByID(_ context.Context, sourceID string) (crawler.RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, sourceID)
	if r.err != nil {
		return crawler.RunResult{}, r.err
	}
	if res, ok := r.results[sourceID]; ok {
		return res, nil
	}
	return crawler.RunResult{SourceID: sourceID, Success: true}, nil
}

func (r *fakeRunner) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

