// Package headless provides browser sessions backed by chromedp and headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
)

// Defaults applied when Config fields are zero.
const (
	DefaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	DefaultWindowWidth  = 1920
	DefaultWindowHeight = 1080
	defaultStartTimeout = 30 * time.Second
)

// Config controls how browser sessions are launched. It is fixed per deployment
// so rendering stays the same from run to run.
type Config struct {
	// ExecPath points at the Chrome binary. Empty lets chromedp discover one.
	ExecPath     string
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	StartTimeout time.Duration
	// MaxParallel caps live sessions on this host. Zero means unlimited.
	MaxParallel int
}

// Manager implements crawler.SessionManager. Every Acquire starts a dedicated
// browser process that lives until Release.
type Manager struct {
	cfg     Config
	limiter chan struct{}
	logger  *zap.Logger
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.WindowWidth < 0 || cfg.WindowHeight < 0 {
		return nil, fmt.Errorf("window size must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Manager{
		cfg:     withDefaults(cfg),
		limiter: limiter,
		logger:  logger.Named("headless"),
	}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.WindowWidth == 0 {
		cfg.WindowWidth = DefaultWindowWidth
	}
	if cfg.WindowHeight == 0 {
		cfg.WindowHeight = DefaultWindowHeight
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = defaultStartTimeout
	}
	return cfg
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Acquire launches a browser and returns a ready session. Any failure is
// reported as crawler.ErrSessionCreation and leaves nothing running.
func (m *Manager) Acquire(ctx context.Context) (crawler.Session, error) {
	releaseSlot, err := m.acquireSlot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", crawler.ErrSessionCreation, err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(m.cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	sess := &session{
		ctx:           browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		releaseSlot:   releaseSlot,
	}

	warmup := chromedp.ActionFunc(func(ctx context.Context) error {
		return emulation.SetDeviceMetricsOverride(int64(m.cfg.WindowWidth), int64(m.cfg.WindowHeight), 1, false).Do(ctx)
	})
	if err := m.start(ctx, browserCtx, warmup); err != nil {
		sess.close()
		m.logger.Warn("browser start failed", zap.String("exec_path", m.cfg.ExecPath), zap.Error(err))
		return nil, fmt.Errorf("%w: chromedp start: %w", crawler.ErrSessionCreation, err)
	}
	m.logger.Debug("browser session started")
	return sess, nil
}

// start allocates the browser on browserCtx itself, since the context of the
// first Run owns the browser process. The wait is bounded separately.
func (m *Manager) start(ctx, browserCtx context.Context, warmup chromedp.Action) error {
	result := make(chan error, 1)
	go func() { result <- chromedp.Run(browserCtx, warmup) }()

	timer := time.NewTimer(m.cfg.StartTimeout)
	defer timer.Stop()
	select {
	case err := <-result:
		return err
	case <-timer.C:
		return fmt.Errorf("browser did not start within %s: %w", m.cfg.StartTimeout, context.DeadlineExceeded)
	case <-ctx.Done():
		return fmt.Errorf("browser start canceled: %w", ctx.Err())
	}
}

// Release tears the session down. It is safe to call more than once.
func (m *Manager) Release(s crawler.Session) {
	sess, ok := s.(*session)
	if !ok || sess == nil {
		return
	}
	sess.close()
	m.logger.Debug("browser session released")
}

func (m *Manager) acquireSlot(ctx context.Context) (func(), error) {
	if m.limiter == nil {
		return func() {}, nil
	}
	select {
	case m.limiter <- struct{}{}:
		return func() { <-m.limiter }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("session slot wait canceled: %w", ctx.Err())
	}
}

type session struct {
	ctx           context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	releaseSlot   func()
	once          sync.Once
}

func (s *session) close() {
	s.once.Do(func() {
		s.browserCancel()
		s.allocCancel()
		s.releaseSlot()
	})
}

// Navigate loads url and waits for the document body.
func (s *session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, "navigate",
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

const bodyTextJS = `document.body ? document.body.innerText : ""`

// Snapshot reads the loaded document.
func (s *session) Snapshot(ctx context.Context) (crawler.PageSnapshot, error) {
	var snap crawler.PageSnapshot
	err := s.run(ctx, "snapshot",
		chromedp.Location(&snap.URL),
		chromedp.Title(&snap.Title),
		chromedp.Evaluate(bodyTextJS, &snap.Text),
		chromedp.OuterHTML("html", &snap.HTML, chromedp.ByQuery),
	)
	if err != nil {
		return crawler.PageSnapshot{}, err
	}
	return snap, nil
}

// Screenshot captures the current viewport as PNG.
func (s *session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, "screenshot", chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// run executes actions on the browser tab, bounded by ctx's deadline and
// cancellation. A deadline hit is reported as context.DeadlineExceeded.
func (s *session) run(ctx context.Context, op string, actions ...chromedp.Action) error {
	taskCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		taskCtx, cancelDeadline = context.WithDeadline(taskCtx, deadline)
		defer cancelDeadline()
	}
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctxErr := taskCtx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return fmt.Errorf("chromedp %s: %w: %w", op, err, ctxErr)
		}
		return fmt.Errorf("chromedp %s: %w", op, err)
	}
	return nil
}

// forwardCancel cancels when parent is done. The returned stop func waits for
// the watcher goroutine to exit.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}
