package crawler

import (
	"context"
	"io"
	"time"
)

// Session is a live browsing context owned by exactly one run.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Snapshot(ctx context.Context) (PageSnapshot, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// SessionManager hands out sessions and tears them down.
type SessionManager interface {
	Acquire(ctx context.Context) (Session, error)
	Release(session Session)
}

// PageExtractor turns a URL into a RawPage using a live session.
type PageExtractor interface {
	Extract(ctx context.Context, session Session, url string, timeout time.Duration) (RawPage, error)
}

// Formatter converts a RawPage into zero or more candidates. It never returns nil.
type Formatter interface {
	Format(ctx context.Context, page RawPage, regionHint string) []CandidateOpportunity
}

// DedupGateway stores a candidate at most once per fingerprint.
type DedupGateway interface {
	Store(ctx context.Context, candidate CandidateOpportunity, sourceURL, sourceName, region string) (StoredOpportunity, StoreOutcome, error)
}

// StatsRecorder owns run bookkeeping for sources. Begin fails only with
// ErrSourceBusy; other write errors are swallowed.
type StatsRecorder interface {
	Begin(ctx context.Context, sourceID string) error
	Record(ctx context.Context, source Source, found int, success bool, targets []TargetOutcome)
}

// TargetStore serves the read side of the source registry.
type TargetStore interface {
	ActiveSources(ctx context.Context, region string) ([]Source, error)
	GetSource(ctx context.Context, sourceID string) (Source, error)
	ActiveTargets(ctx context.Context, region string) ([]Target, error)
}

// OpportunityRepository performs the atomic conditional insert. inserted is
// false when a row with the same fingerprint already exists.
type OpportunityRepository interface {
	InsertIfAbsent(ctx context.Context, opp StoredOpportunity) (id string, inserted bool, err error)
}

// StatsStore applies run bookkeeping atomically. ClaimSource moves a source to
// running and returns ErrSourceBusy when it is running already.
type StatsStore interface {
	ClaimSource(ctx context.Context, sourceID string) error
	RecordRun(ctx context.Context, stats RunStats) error
}

// BlobStore writes artifacts such as screenshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes opportunity events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for source runs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Pauser sleeps between targets and returns early when ctx is done.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}
