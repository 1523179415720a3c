// Package app builds the long-lived services of the crawler from
// configuration and tears them down in reverse order.
package app

import (
	"context"
	"fmt"
	"net/http"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/funding-crawler/internal/api"
	"github.com/JakeFAU/funding-crawler/internal/browser/headless"
	"github.com/JakeFAU/funding-crawler/internal/browser/static"
	"github.com/JakeFAU/funding-crawler/internal/clock/system"
	"github.com/JakeFAU/funding-crawler/internal/config"
	"github.com/JakeFAU/funding-crawler/internal/crawler"
	"github.com/JakeFAU/funding-crawler/internal/dedup"
	"github.com/JakeFAU/funding-crawler/internal/dispatcher"
	"github.com/JakeFAU/funding-crawler/internal/extract"
	"github.com/JakeFAU/funding-crawler/internal/formatter"
	"github.com/JakeFAU/funding-crawler/internal/id/uuid"
	"github.com/JakeFAU/funding-crawler/internal/orchestrator"
	pubsubpublisher "github.com/JakeFAU/funding-crawler/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/funding-crawler/internal/queue/memory"
	queueredis "github.com/JakeFAU/funding-crawler/internal/queue/redis"
	"github.com/JakeFAU/funding-crawler/internal/scheduler"
	"github.com/JakeFAU/funding-crawler/internal/stats"
	"github.com/JakeFAU/funding-crawler/internal/storage/gcs"
	"github.com/JakeFAU/funding-crawler/internal/storage/local"
	"github.com/JakeFAU/funding-crawler/internal/storage/memory"
	"github.com/JakeFAU/funding-crawler/internal/storage/postgres"
	"github.com/JakeFAU/funding-crawler/internal/worker"
)

// App holds every service the binary runs.
type App struct {
	Orchestrator *orchestrator.Orchestrator
	Dispatcher   *dispatcher.Dispatcher
	Scheduler    *scheduler.Scheduler
	Server       *api.Server

	cfg     config.Config
	logger  *zap.Logger
	closers []closer
}

type closer struct {
	name  string
	close func() error
}

// stores groups the persistence side chosen by db.dsn.
type stores struct {
	targets crawler.TargetStore
	stats   crawler.StatsStore
	opps    crawler.OpportunityRepository
	ready   []api.ReadyCheck
}

// New initializes services from cfg. On error every service created so far
// is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	clock := system.New()
	st, err := a.buildStores(ctx)
	if err != nil {
		return nil, err
	}
	sessions, err := a.buildSessions()
	if err != nil {
		return nil, err
	}
	blobs, err := a.buildBlobs(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}
	queue, err := a.buildQueue()
	if err != nil {
		return nil, err
	}

	gateway, err := dedup.New(st.opps, clock, logger)
	if err != nil {
		return nil, fmt.Errorf("init dedup gateway: %w", err)
	}
	tracker, err := stats.New(st.stats, clock, logger)
	if err != nil {
		return nil, fmt.Errorf("init stats tracker: %w", err)
	}

	a.Orchestrator, err = orchestrator.New(orchestrator.Deps{
		Targets:   st.targets,
		Sessions:  sessions,
		Extractor: extract.New(clock, cfg.Browser.Screenshots, logger),
		Formatter: a.buildFormatter(),
		Gateway:   gateway,
		Stats:     tracker,
		Blobs:     blobs,
		Publisher: publisher,
		Clock:     clock,
		IDs:       uuid.New(),
	}, orchestrator.Config{
		NavigationTimeout: cfg.Browser.NavTimeout,
		RunTimeout:        cfg.Orchestrator.RunTimeout,
		DefaultRateLimit:  cfg.Crawler.DefaultRateLimit,
		ScreenshotPrefix:  cfg.Storage.Prefix,
		Topic:             cfg.PubSub.Topic,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}

	a.Dispatcher = dispatcher.NewPool(
		cfg.Crawler.Concurrency,
		queue,
		a.Orchestrator,
		worker.Config{MaxAttempts: cfg.Crawler.MaxAttempts},
		clock,
		logger,
	)
	a.Scheduler = scheduler.New(st.targets, a.Dispatcher, nil, scheduler.Config{
		Interval: cfg.Scheduler.Interval,
		Region:   cfg.Scheduler.Region,
		Stagger:  cfg.Crawler.SourceDelay,
	}, logger)

	deps := api.Deps{
		Runner:   a.Orchestrator,
		Enqueuer: a.Dispatcher,
		Sweeper:  a.Scheduler,
		Ready:    st.ready,
	}
	if cfg.DB.DSN != "" {
		deps.ValidID = uuid.Valid
	}
	a.Server = api.NewServer(deps, api.Config{
		APIKey:         cfg.Server.APIKey,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, logger)
	return a, nil
}

// Handler returns the HTTP handler of the trigger API.
func (a *App) Handler() http.Handler {
	return a.Server.Handler()
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, close: fn})
}

func (a *App) buildStores(ctx context.Context) (stores, error) {
	if a.cfg.DB.DSN == "" {
		sources, targets, err := LoadSeed(a.cfg.DB.SeedFile)
		if err != nil {
			return stores{}, err
		}
		reg := memory.NewRegistry(sources, targets)
		a.logger.Info("using in-memory stores", zap.Int("sources", len(sources)), zap.Int("targets", len(targets)))
		return stores{targets: reg, stats: reg, opps: memory.NewOpportunityStore()}, nil
	}

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return stores{}, fmt.Errorf("init postgres: %w", err)
	}
	a.addCloser("postgres", func() error {
		pool.Close()
		return nil
	})
	targets, err := postgres.NewTargetStore(pool)
	if err != nil {
		return stores{}, err
	}
	statsStore, err := postgres.NewStatsStore(pool)
	if err != nil {
		return stores{}, err
	}
	opps, err := postgres.NewOpportunityStore(pool)
	if err != nil {
		return stores{}, err
	}
	a.logger.Info("using postgres stores")
	return stores{
		targets: targets,
		stats:   statsStore,
		opps:    opps,
		ready:   []api.ReadyCheck{targets.Ping},
	}, nil
}

func (a *App) buildSessions() (crawler.SessionManager, error) {
	b := a.cfg.Browser
	if b.Mode == config.BrowserStatic {
		a.logger.Info("using static sessions")
		return static.NewManager(static.Config{
			UserAgent: b.UserAgent,
			Timeout:   b.NavTimeout,
			HostRPS:   b.HostRPS,
		}, a.logger), nil
	}
	manager, err := headless.NewManager(headless.Config{
		ExecPath:     b.ExecPath,
		UserAgent:    b.UserAgent,
		WindowWidth:  b.WindowWidth,
		WindowHeight: b.WindowHeight,
		StartTimeout: b.StartTimeout,
		MaxParallel:  a.cfg.Crawler.Concurrency,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init headless sessions: %w", err)
	}
	a.logger.Info("using headless sessions", zap.String("exec_path", b.ExecPath))
	return manager, nil
}

func (a *App) buildFormatter() *formatter.Formatter {
	ai := a.cfg.AI
	if ai.APIKey == "" {
		a.logger.Warn("ai.api_key not set; formatting uses the heuristic only")
		return formatter.New(nil, ai.PromptChars, a.logger)
	}
	client := formatter.NewClient(formatter.ClientConfig{
		BaseURL:     ai.BaseURL,
		APIKey:      ai.APIKey,
		Model:       ai.Model,
		Temperature: ai.Temperature,
		MaxTokens:   ai.MaxTokens,
		Timeout:     ai.Timeout,
		RPS:         ai.RPS,
	}, a.logger)
	return formatter.New(client, ai.PromptChars, a.logger)
}

func (a *App) buildBlobs(ctx context.Context) (crawler.BlobStore, error) {
	s := a.cfg.Storage
	switch s.Provider {
	case config.ProviderMemory:
		return memory.NewBlobStore(), nil
	case config.ProviderLocal:
		store, err := local.New(local.Config{BaseDir: s.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return store, nil
	case config.ProviderGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.addCloser("gcs", client.Close)
		store, err := gcs.New(client, gcs.Config{Bucket: s.Bucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		return store, nil
	default:
		return nil, nil
	}
}

func (a *App) buildPublisher(ctx context.Context) (crawler.Publisher, error) {
	p := a.cfg.PubSub
	if p.Topic == "" {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, p.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	publisher := pubsubpublisher.New(client)
	a.addCloser("pubsub", func() error {
		publisher.Stop()
		return client.Close()
	})
	return publisher, nil
}

func (a *App) buildQueue() (crawler.Queue, error) {
	q := a.cfg.Queue
	if q.Provider == config.ProviderRedis {
		client := goredis.NewClient(&goredis.Options{Addr: q.RedisAddr, DB: q.RedisDB})
		a.addCloser("redis", client.Close)
		return queueredis.New(client, queueredis.Config{Key: q.RedisKey}), nil
	}
	mq := queuememory.NewQueue(a.cfg.Crawler.QueueDepth)
	a.addCloser("queue", func() error {
		mq.Close()
		return nil
	})
	return mq, nil
}

// Close shuts services down in reverse order of creation. It is safe to call
// more than once.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close service", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}
