// Package extract turns a URL into a RawPage using a live browser session.
package extract

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
)

// DefaultTimeout bounds navigation plus the body readiness wait. The snapshot
// and the screenshot each get the same budget again.
const DefaultTimeout = 10 * time.Second

// Extractor implements crawler.PageExtractor.
type Extractor struct {
	clock       crawler.Clock
	screenshots bool
	logger      *zap.Logger
}

// New returns an Extractor. When screenshots is false no capture is attempted.
func New(clock crawler.Clock, screenshots bool, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{clock: clock, screenshots: screenshots, logger: logger.Named("extract")}
}

// Extract navigates session to url and collects title, text, links, and an
// optional screenshot. Failures come back typed as crawler.ErrNavigationTimeout,
// crawler.ErrDriverFault, or crawler.ErrUnexpected; a panic inside the session
// never escapes.
func (e *Extractor) Extract(ctx context.Context, session crawler.Session, url string, timeout time.Duration) (page crawler.RawPage, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("session panicked", zap.String("target_url", url), zap.Any("panic", r))
			page = crawler.RawPage{}
			err = fmt.Errorf("%w: extracting %s: %v", crawler.ErrUnexpected, url, r)
		}
	}()
	if session == nil {
		return crawler.RawPage{}, fmt.Errorf("%w: nil session", crawler.ErrDriverFault)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := session.Navigate(navCtx, url); err != nil {
		return crawler.RawPage{}, classify(navCtx, url, err)
	}
	snapCtx, cancelSnap := context.WithTimeout(ctx, timeout)
	defer cancelSnap()
	snap, err := session.Snapshot(snapCtx)
	if err != nil {
		return crawler.RawPage{}, classify(snapCtx, url, err)
	}

	finalURL := snap.URL
	if finalURL == "" {
		finalURL = url
	}
	page = crawler.RawPage{
		URL:        url,
		Title:      snap.Title,
		Text:       snap.Text,
		HTML:       snap.HTML,
		Links:      FilterLinks(snap.HTML, finalURL),
		CapturedAt: e.clock.Now(),
	}
	if e.screenshots {
		shotCtx, cancelShot := context.WithTimeout(ctx, timeout)
		defer cancelShot()
		e.captureScreenshot(shotCtx, session, &page)
	}
	return page, nil
}

func (e *Extractor) captureScreenshot(ctx context.Context, session crawler.Session, page *crawler.RawPage) {
	shot, err := session.Screenshot(ctx)
	switch {
	case errors.Is(err, crawler.ErrScreenshotUnsupported):
		return
	case err != nil:
		e.logger.Warn("screenshot failed", zap.String("target_url", page.URL), zap.Error(err))
		return
	case len(shot) == 0:
		return
	}
	page.Screenshot = shot
	page.ScreenshotBase64 = base64.StdEncoding.EncodeToString(shot)
}

func classify(ctx context.Context, url string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", crawler.ErrNavigationTimeout, url, err)
	}
	return fmt.Errorf("%w: %s: %w", crawler.ErrDriverFault, url, err)
}
