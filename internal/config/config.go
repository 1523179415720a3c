// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. FUNDCRAWLER_DB_DSN.
const EnvPrefix = "FUNDCRAWLER"

// Browser modes.
const (
	BrowserHeadless = "headless"
	BrowserStatic   = "static"
)

// Queue and storage providers.
const (
	ProviderMemory = "memory"
	ProviderRedis  = "redis"
	ProviderNone   = "none"
	ProviderLocal  = "local"
	ProviderGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Crawler      CrawlerConfig      `mapstructure:"crawler"`
	Browser      BrowserConfig      `mapstructure:"browser"`
	AI           AIConfig           `mapstructure:"ai"`
	DB           DBConfig           `mapstructure:"db"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Storage      StorageConfig      `mapstructure:"storage"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs the worker pool.
type CrawlerConfig struct {
	Concurrency      int           `mapstructure:"concurrency"`
	QueueDepth       int           `mapstructure:"queue_depth"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	DefaultRateLimit time.Duration `mapstructure:"default_rate_limit"`
	SourceDelay      time.Duration `mapstructure:"source_delay"`
}

// BrowserConfig selects and tunes the session manager.
type BrowserConfig struct {
	Mode         string        `mapstructure:"mode"`
	ExecPath     string        `mapstructure:"exec_path"`
	UserAgent    string        `mapstructure:"user_agent"`
	WindowWidth  int           `mapstructure:"window_width"`
	WindowHeight int           `mapstructure:"window_height"`
	StartTimeout time.Duration `mapstructure:"start_timeout"`
	NavTimeout   time.Duration `mapstructure:"nav_timeout"`
	Screenshots  bool          `mapstructure:"screenshots"`
	HostRPS      float64       `mapstructure:"host_rps"`
}

// AIConfig configures the completion endpoint used by the formatter.
type AIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RPS         float64       `mapstructure:"rps"`
	PromptChars int           `mapstructure:"prompt_chars"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory stores, seeded from SeedFile.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	SeedFile        string        `mapstructure:"seed_file"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// QueueConfig selects the source queue.
type QueueConfig struct {
	Provider  string `mapstructure:"provider"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisKey  string `mapstructure:"redis_key"`
	RedisDB   int    `mapstructure:"redis_db"`
}

// StorageConfig selects where screenshots are archived.
type StorageConfig struct {
	Provider string `mapstructure:"provider"`
	Bucket   string `mapstructure:"bucket"`
	BaseDir  string `mapstructure:"base_dir"`
	Prefix   string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for opportunity notifications. An empty topic
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// SchedulerConfig controls periodic sweeps.
type SchedulerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Region   string        `mapstructure:"region"`
}

// OrchestratorConfig bounds individual runs.
type OrchestratorConfig struct {
	RunTimeout time.Duration `mapstructure:"run_timeout"`
}

// Load builds a Config from .env, disk, and environment, in increasing
// precedence.
func Load(path string) (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindAliases(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadDotEnv reads .env from the working directory when present. Variables
// already set in the environment win.
func loadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load .env: %w", err)
}

// bindAliases maps the conventional variable names used by existing
// deployments onto config keys. Prefixed names still take precedence.
func bindAliases(v *viper.Viper) error {
	aliases := map[string][]string{
		"db.dsn":     {EnvPrefix + "_DB_DSN", "DATABASE_URL"},
		"ai.api_key": {EnvPrefix + "_AI_API_KEY", "DEEPSEEK_API_KEY"},
	}
	for key, envs := range aliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "10s")
	v.SetDefault("logging.development", true)
	v.SetDefault("crawler.concurrency", 2)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.max_attempts", 1)
	v.SetDefault("crawler.default_rate_limit", "30s")
	v.SetDefault("crawler.source_delay", "5s")
	v.SetDefault("browser.mode", BrowserHeadless)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.start_timeout", "30s")
	v.SetDefault("browser.nav_timeout", "10s")
	v.SetDefault("browser.screenshots", true)
	v.SetDefault("browser.host_rps", 1.0)
	v.SetDefault("ai.base_url", "https://api.deepseek.com/v1")
	v.SetDefault("ai.model", "deepseek-chat")
	v.SetDefault("ai.temperature", 0.1)
	v.SetDefault("ai.max_tokens", 2000)
	v.SetDefault("ai.timeout", "30s")
	v.SetDefault("ai.rps", 1.0)
	v.SetDefault("ai.prompt_chars", 3000)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("queue.provider", ProviderMemory)
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_key", "fundcrawler:sources")
	v.SetDefault("storage.provider", ProviderNone)
	v.SetDefault("storage.base_dir", "data/screenshots")
	v.SetDefault("storage.prefix", "screenshots")
	v.SetDefault("scheduler.interval", "0s")
	v.SetDefault("orchestrator.run_timeout", "30m")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	switch c.Browser.Mode {
	case BrowserHeadless, BrowserStatic:
	default:
		return fmt.Errorf("browser.mode must be %q or %q, got %q", BrowserHeadless, BrowserStatic, c.Browser.Mode)
	}
	if c.Browser.NavTimeout <= 0 {
		return fmt.Errorf("browser.nav_timeout must be > 0")
	}
	switch c.Queue.Provider {
	case ProviderMemory:
	case ProviderRedis:
		if c.Queue.RedisAddr == "" {
			return fmt.Errorf("queue.redis_addr is required for the redis queue")
		}
	default:
		return fmt.Errorf("queue.provider must be %q or %q, got %q", ProviderMemory, ProviderRedis, c.Queue.Provider)
	}
	switch c.Storage.Provider {
	case ProviderNone, ProviderMemory:
	case ProviderLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for local storage")
		}
	case ProviderGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for gcs storage")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic is set")
	}
	if c.Scheduler.Interval < 0 {
		return fmt.Errorf("scheduler.interval must be >= 0")
	}
	return nil
}
