package crawler

import "errors"

// Sentinel errors shared by pipeline components. Callers match with errors.Is.
var (
	// ErrSessionCreation means a browser session could not be started.
	ErrSessionCreation = errors.New("session creation failed")
	// ErrNavigationTimeout means the page did not become ready in time.
	ErrNavigationTimeout = errors.New("navigation timeout")
	// ErrDriverFault covers any other browser or transport failure.
	ErrDriverFault = errors.New("driver fault")
	// ErrUnexpected wraps panics recovered while driving a session.
	ErrUnexpected = errors.New("unexpected extraction failure")
	// ErrAIFormat marks a failed AI formatting attempt.
	ErrAIFormat = errors.New("ai format failed")
	// ErrPersistenceFailed means a candidate could not be written.
	ErrPersistenceFailed = errors.New("persistence failed")
	// ErrStatsWrite means run bookkeeping could not be written.
	ErrStatsWrite = errors.New("stats write failed")
	// ErrNotFound is returned when a source does not exist.
	ErrNotFound = errors.New("not found")
	// ErrScreenshotUnsupported is returned by sessions that cannot render.
	ErrScreenshotUnsupported = errors.New("screenshot unsupported")
	// ErrSourceBusy is returned when another run already holds the source.
	ErrSourceBusy = errors.New("source already running")
	// ErrQueueClosed is returned once a queue has been shut down.
	ErrQueueClosed = errors.New("queue closed")
)
