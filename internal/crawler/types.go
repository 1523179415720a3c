package crawler

import (
	"time"
)

// SourceStatus represents the lifecycle state of a crawl source (bot).
type SourceStatus string

// Source status values persisted on search_bots.status.
const (
	SourceStatusActive  SourceStatus = "active"
	SourceStatusRunning SourceStatus = "running"
	SourceStatusError   SourceStatus = "error"
)

// DefaultRateLimit is the inter-target delay applied when a target has none.
const DefaultRateLimit = 30 * time.Second

// Source is a configured crawl unit scoped to a region.
type Source struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	Region             string       `json:"region"`
	Status             SourceStatus `json:"status"`
	LastRun            *time.Time   `json:"last_run,omitempty"`
	OpportunitiesFound int          `json:"opportunities_found"`
	ErrorCount         int          `json:"error_count"`
	RewardPoints       int          `json:"reward_points"`
}

// Target is one URL visited on behalf of a source.
type Target struct {
	ID        string        `json:"id"`
	Region    string        `json:"region"`
	URL       string        `json:"url"`
	Name      string        `json:"name"`
	Priority  int           `json:"priority"`
	Active    bool          `json:"active"`
	RateLimit time.Duration `json:"rate_limit"`
}

// Delay returns the configured rate limit, or DefaultRateLimit when unset.
func (t Target) Delay() time.Duration {
	if t.RateLimit <= 0 {
		return DefaultRateLimit
	}
	return t.RateLimit
}

// Link is a candidate outbound hyperlink kept by the extractor.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// PageSnapshot is what a session reports about the currently loaded document.
type PageSnapshot struct {
	URL   string
	Title string
	Text  string
	HTML  string
}

// RawPage is the transient output of one extraction.
type RawPage struct {
	URL              string
	Title            string
	Text             string
	HTML             string
	Links            []Link
	Screenshot       []byte
	ScreenshotBase64 string
	CapturedAt       time.Time
}

// Provenance identifies how an opportunity entered the system.
type Provenance string

// Provenance values. Scraped rows come from this pipeline.
const (
	ProvenanceScraped Provenance = "scraped"
	ProvenanceUser    Provenance = "user"
)

// StoredOpportunity is the durable record keyed by Fingerprint.
type StoredOpportunity struct {
	ID                string     `json:"id"`
	Fingerprint       string     `json:"content_hash"`
	SourceURL         string     `json:"source_url"`
	SourceName        string     `json:"source_name"`
	Region            string     `json:"country"`
	Verified          bool       `json:"is_verified"`
	VerificationScore float64    `json:"verification_score"`
	Active            bool       `json:"is_active"`
	CreatedAt         time.Time  `json:"created_at"`
	ScrapedAt         time.Time  `json:"scraped_at"`
	Provenance        Provenance `json:"-"`
	CandidateOpportunity
}

// StoreOutcome is the non-error result of a persistence attempt.
type StoreOutcome string

// Store outcomes. PersistenceFailed is reported as an error.
const (
	StoreStored        StoreOutcome = "stored"
	StoreAlreadyExists StoreOutcome = "already_exists"
)

// TargetStatus summarizes how one target fared during a run.
type TargetStatus string

// Target status values.
const (
	TargetSuccess TargetStatus = "success"
	TargetFailure TargetStatus = "failure"
	TargetSkipped TargetStatus = "skipped"
)

// TargetOutcome records the per-target result of a run.
type TargetOutcome struct {
	TargetID      string        `json:"target_id"`
	URL           string        `json:"url"`
	Status        TargetStatus  `json:"status"`
	Stored        int           `json:"stored"`
	Duplicates    int           `json:"duplicates"`
	Failed        int           `json:"failed"`
	Err           string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration"`
	ScreenshotURI string        `json:"screenshot_uri,omitempty"`
}

// RunResult is the transient aggregate of one source run.
type RunResult struct {
	RunID              string          `json:"run_id"`
	SourceID           string          `json:"source_id"`
	Success            bool            `json:"success"`
	OpportunitiesFound int             `json:"opportunities_found"`
	Targets            []TargetOutcome `json:"targets"`
	StartedAt          time.Time       `json:"started_at"`
	Duration           time.Duration   `json:"duration"`
	Err                string          `json:"error,omitempty"`
}

// RunStats is the bookkeeping write applied when a run finalizes.
type RunStats struct {
	SourceID     string
	Region       string
	Found        int
	Success      bool
	RewardPoints int
	Status       SourceStatus
	FinishedAt   time.Time
	Targets      []TargetOutcome
}

// OpportunityEvent is published for every newly stored opportunity.
type OpportunityEvent struct {
	OpportunityID string    `json:"opportunity_id"`
	Fingerprint   string    `json:"content_hash"`
	Title         string    `json:"title"`
	SourceID      string    `json:"source_id"`
	SourceURL     string    `json:"source_url"`
	Region        string    `json:"country"`
	RunID         string    `json:"run_id"`
	StoredAt      time.Time `json:"stored_at"`
}

// QueueItem wraps a source run waiting for a worker.
type QueueItem struct {
	SourceID  string `json:"source_id"`
	Attempt   int    `json:"attempt"`
	Submitted int64  `json:"submitted"`
}
