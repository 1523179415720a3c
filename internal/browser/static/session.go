// Package static provides browserless sessions built on gocolly for hosts
// without Chrome. Pages are fetched as HTML and never rendered.
package static

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
	"github.com/JakeFAU/funding-crawler/internal/policy/ratelimit"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// HostRPS throttles requests per host across sessions. Zero disables it.
	HostRPS float64
}

// Manager implements crawler.SessionManager with colly collectors.
type Manager struct {
	cfg     Config
	base    *colly.Collector
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// NewManager builds a Manager sharing one pooled transport.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	return &Manager{
		cfg:     cfg,
		base:    c,
		limiter: ratelimit.New(ratelimit.Config{DefaultRPS: cfg.HostRPS}),
		logger:  logger.Named("static"),
	}
}

// Acquire returns a fresh session. It never fails.
func (m *Manager) Acquire(context.Context) (crawler.Session, error) {
	return &session{manager: m}, nil
}

// Release drops the session's page state.
func (m *Manager) Release(s crawler.Session) {
	sess, ok := s.(*session)
	if !ok || sess == nil {
		return
	}
	sess.mu.Lock()
	sess.page = nil
	sess.mu.Unlock()
}

type page struct {
	url  string
	body []byte
}

type session struct {
	manager *Manager
	mu      sync.Mutex
	page    *page
}

// Navigate fetches url and keeps the response for Snapshot.
func (s *session) Navigate(ctx context.Context, url string) error {
	m := s.manager
	if err := m.limiter.Wait(ctx, url); err != nil {
		return err
	}
	collector := m.base.Clone()
	collector.SetRequestTimeout(requestTimeout(ctx, m.cfg.Timeout))

	var (
		result   page
		fetchErr error
	)
	configureHooks(collector, &result, &fetchErr)
	if err := runCollector(ctx, collector, url, &fetchErr); err != nil {
		return err
	}
	if !hasBody(result.body) {
		return fmt.Errorf("document at %s has no body", url)
	}
	s.mu.Lock()
	s.page = &result
	s.mu.Unlock()
	m.logger.Debug("page fetched", zap.String("target_url", url), zap.Int("bytes", len(result.body)))
	return nil
}

// Snapshot derives title and visible text from the fetched HTML.
func (s *session) Snapshot(context.Context) (crawler.PageSnapshot, error) {
	s.mu.Lock()
	p := s.page
	s.mu.Unlock()
	if p == nil {
		return crawler.PageSnapshot{}, fmt.Errorf("snapshot before navigate")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.body))
	if err != nil {
		return crawler.PageSnapshot{}, fmt.Errorf("parse html: %w", err)
	}
	return crawler.PageSnapshot{
		URL:   p.url,
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Text:  VisibleText(doc),
		HTML:  string(p.body),
	}, nil
}

// Screenshot is not available without a renderer.
func (s *session) Screenshot(context.Context) ([]byte, error) {
	return nil, crawler.ErrScreenshotUnsupported
}

// VisibleText returns body text with scripts and styles removed and
// whitespace collapsed line by line.
func VisibleText(doc *goquery.Document) string {
	body := doc.Find("body").First().Clone()
	body.Find("script, style, noscript, template").Remove()
	lines := strings.Split(body.Text(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func hasBody(html []byte) bool {
	return bytes.Contains(bytes.ToLower(html), []byte("<body"))
}

func configureHooks(hooks collectorHooks, result *page, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		result.url = r.Request.URL.String()
		result.body = append([]byte(nil), r.Body...)
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

// requestTimeout shrinks fallback to whatever remains of ctx's deadline.
func requestTimeout(ctx context.Context, fallback time.Duration) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return fallback
	}
	if remaining := time.Until(deadline); remaining > 0 && remaining < fallback {
		return remaining
	}
	return fallback
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
