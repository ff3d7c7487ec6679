// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/iantaiahn/topicscraper/internal/browser"
	"github.com/iantaiahn/topicscraper/internal/extract"
	"github.com/iantaiahn/topicscraper/internal/loader"
	"github.com/iantaiahn/topicscraper/internal/logging"
	"github.com/iantaiahn/topicscraper/internal/pipeline"
	"github.com/iantaiahn/topicscraper/internal/policy/hosts"
	"github.com/iantaiahn/topicscraper/internal/policy/ratelimit"
	"github.com/iantaiahn/topicscraper/internal/prefetch"
	"github.com/iantaiahn/topicscraper/internal/scraper"
	"github.com/iantaiahn/topicscraper/internal/storage/gcs"
	"github.com/iantaiahn/topicscraper/internal/storage/local"
	"github.com/iantaiahn/topicscraper/internal/storage/postgres"
	"github.com/iantaiahn/topicscraper/internal/storage/redis"
	"github.com/iantaiahn/topicscraper/internal/telemetry"
	"github.com/iantaiahn/topicscraper/internal/topics"
)

// EnvPrefix prefixes every environment override, e.g. TOPICS_SERVER_PORT.
const EnvPrefix = "TOPICS"

// Browser drivers.
const (
	DriverChromedp = "chromedp"
	DriverRod      = "rod"
)

// Backends for storage and the job queue.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendPubSub = "pubsub"
)

// Job store selections. "auto" prefers Redis, then Postgres, then memory.
const (
	StoreAuto     = "auto"
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Memory    MemoryConfig     `mapstructure:"memory"`
	Browser   BrowserConfig    `mapstructure:"browser"`
	Load      LoadConfig       `mapstructure:"load"`
	Extract   ExtractConfig    `mapstructure:"extract"`
	Prefetch  PrefetchConfig   `mapstructure:"prefetch"`
	Topics    topics.Config    `mapstructure:"topics"`
	Jobs      JobsConfig       `mapstructure:"jobs"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Postgres  PostgresConfig   `mapstructure:"postgres"`
	Storage   StorageConfig    `mapstructure:"storage"`
	PubSub    PubSubConfig     `mapstructure:"pubsub"`
	RateLimit RateLimitConfig  `mapstructure:"ratelimit"`
	Hosts     hosts.Config     `mapstructure:"hosts"`
	Tracing   telemetry.Config `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MemoryConfig bounds the memory each fetch may use.
type MemoryConfig struct {
	LimitMB          float64       `mapstructure:"limit_mb"`
	WarnRatio        float64       `mapstructure:"warn_ratio"`
	IncludeChildren  bool          `mapstructure:"include_children"`
	WatchdogInterval time.Duration `mapstructure:"watchdog_interval"`
}

// BrowserConfig selects and tunes the browser driver.
type BrowserConfig struct {
	Driver        string        `mapstructure:"driver"`
	Headless      bool          `mapstructure:"headless"`
	Minimal       bool          `mapstructure:"minimal"`
	UserAgent     string        `mapstructure:"user_agent"`
	WindowWidth   int           `mapstructure:"window_width"`
	WindowHeight  int           `mapstructure:"window_height"`
	JSHeapMB      int           `mapstructure:"js_heap_mb"`
	ExecPath      string        `mapstructure:"exec_path"`
	LaunchTimeout time.Duration `mapstructure:"launch_timeout"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
}

// LoadConfig holds the page load engine budgets. Strategies are tried in the
// listed order (direct_navigation, script_navigation, early_stop, raw_fetch).
type LoadConfig struct {
	DirectTimeout        time.Duration `mapstructure:"direct_timeout"`
	ScriptPollInterval   time.Duration `mapstructure:"script_poll_interval"`
	ScriptMaxPolls       int           `mapstructure:"script_max_polls"`
	EarlyStopPause       time.Duration `mapstructure:"early_stop_pause"`
	RawFetchPollInterval time.Duration `mapstructure:"raw_fetch_poll_interval"`
	RawFetchMaxPolls     int           `mapstructure:"raw_fetch_max_polls"`
	TransientRetries     int           `mapstructure:"transient_retries"`
	BackoffBase          time.Duration `mapstructure:"backoff_base"`
	BackoffMax           time.Duration `mapstructure:"backoff_max"`
	MinContentChars      int           `mapstructure:"min_content_chars"`
	StopTimeout          time.Duration `mapstructure:"stop_timeout"`
	Strategies           []string      `mapstructure:"strategies"`
}

// ExtractConfig holds content extraction thresholds.
type ExtractConfig struct {
	MinChars         int  `mapstructure:"min_chars"`
	MinFragmentChars int  `mapstructure:"min_fragment_chars"`
	InterruptEvery   int  `mapstructure:"interrupt_every"`
	MaxContentLength int  `mapstructure:"max_content_length"`
	CollectMetadata  bool `mapstructure:"collect_metadata"`
	MaxLinks         int  `mapstructure:"max_links"`
}

// PrefetchConfig enables the plain HTTP fetch tried before the browser.
type PrefetchConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	UserAgent           string        `mapstructure:"user_agent"`
	RespectRobots       bool          `mapstructure:"respect_robots"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxBodyBytes        int           `mapstructure:"max_body_bytes"`
	BodyLengthThreshold int           `mapstructure:"body_length_threshold"`
	MinChars            int           `mapstructure:"min_chars"`
}

// JobsConfig sizes the worker pool and the job queue.
type JobsConfig struct {
	Workers        int           `mapstructure:"workers"`
	Store          string        `mapstructure:"store"`
	Queue          string        `mapstructure:"queue"`
	QueueCapacity  int           `mapstructure:"queue_capacity"`
	JobTimeout     time.Duration `mapstructure:"job_timeout"`
	EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout"`
	TTL            time.Duration `mapstructure:"ttl"`
}

// RedisConfig points at the job store. An empty Addr keeps jobs in memory.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
}

// PostgresConfig points at the optional Postgres job store.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// StorageConfig selects where HTML reports are written.
type StorageConfig struct {
	Backend      string       `mapstructure:"backend"`
	ReportPrefix string       `mapstructure:"report_prefix"`
	Local        local.Config `mapstructure:"local"`
	GCS          gcs.Config   `mapstructure:"gcs"`
}

// PubSubConfig holds the project, the completion topic and the optional
// queue topic/subscription pair.
type PubSubConfig struct {
	ProjectID         string `mapstructure:"project_id"`
	Topic             string `mapstructure:"topic"`
	QueueTopic        string `mapstructure:"queue_topic"`
	QueueSubscription string `mapstructure:"queue_subscription"`
}

// RateLimitConfig throttles job submissions per client and fetches per host.
type RateLimitConfig struct {
	Submissions ratelimit.Config `mapstructure:"submissions"`
	Fetch       ratelimit.Config `mapstructure:"fetch"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	fetch := scraper.DefaultConfig()
	v.SetDefault("memory.limit_mb", fetch.MemoryLimitMB)
	v.SetDefault("memory.warn_ratio", fetch.WarnRatio)
	v.SetDefault("memory.include_children", true)

	opts := fetch.Browser
	v.SetDefault("browser.driver", DriverChromedp)
	v.SetDefault("browser.headless", opts.Headless)
	v.SetDefault("browser.minimal", opts.Minimal)
	v.SetDefault("browser.user_agent", opts.UserAgent)
	v.SetDefault("browser.window_width", opts.WindowWidth)
	v.SetDefault("browser.window_height", opts.WindowHeight)
	v.SetDefault("browser.js_heap_mb", opts.JSHeapMB)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.launch_timeout", fetch.LaunchTimeout)
	v.SetDefault("browser.read_timeout", fetch.ReadTimeout)

	load := loader.DefaultConfig()
	v.SetDefault("memory.watchdog_interval", load.WatchdogInterval)
	v.SetDefault("load.direct_timeout", load.DirectTimeout)
	v.SetDefault("load.script_poll_interval", load.ScriptPollInterval)
	v.SetDefault("load.script_max_polls", load.ScriptMaxPolls)
	v.SetDefault("load.early_stop_pause", load.EarlyStopPause)
	v.SetDefault("load.raw_fetch_poll_interval", load.RawFetchPollInterval)
	v.SetDefault("load.raw_fetch_max_polls", load.RawFetchMaxPolls)
	v.SetDefault("load.transient_retries", load.TransientRetries)
	v.SetDefault("load.backoff_base", load.BackoffBase)
	v.SetDefault("load.backoff_max", load.BackoffMax)
	v.SetDefault("load.min_content_chars", load.MinContentChars)
	v.SetDefault("load.stop_timeout", load.StopTimeout)
	names := make([]string, 0, len(load.Strategies))
	for _, s := range load.Strategies {
		names = append(names, s.String())
	}
	v.SetDefault("load.strategies", names)

	ext := extract.DefaultConfig()
	v.SetDefault("extract.min_chars", ext.MinChars)
	v.SetDefault("extract.min_fragment_chars", ext.MinFragmentChars)
	v.SetDefault("extract.interrupt_every", ext.InterruptEvery)
	v.SetDefault("extract.max_content_length", fetch.MaxContentLength)
	v.SetDefault("extract.collect_metadata", fetch.CollectMetadata)
	v.SetDefault("extract.max_links", fetch.MaxLinks)

	pf := prefetch.DefaultConfig()
	v.SetDefault("prefetch.enabled", false)
	v.SetDefault("prefetch.user_agent", pf.UserAgent)
	v.SetDefault("prefetch.respect_robots", pf.RespectRobots)
	v.SetDefault("prefetch.timeout", pf.Timeout)
	v.SetDefault("prefetch.max_body_bytes", pf.MaxBodyBytes)
	v.SetDefault("prefetch.body_length_threshold", pf.BodyLengthThreshold)
	v.SetDefault("prefetch.min_chars", fetch.StaticMinChars)

	tc := topics.DefaultConfig()
	v.SetDefault("topics.clusters", tc.Clusters)
	v.SetDefault("topics.top_terms", tc.TopTerms)
	v.SetDefault("topics.max_features", tc.MaxFeatures)
	v.SetDefault("topics.max_iterations", tc.MaxIterations)
	v.SetDefault("topics.seed", tc.Seed)

	v.SetDefault("jobs.workers", 1)
	v.SetDefault("jobs.store", StoreAuto)
	v.SetDefault("jobs.queue", BackendMemory)
	v.SetDefault("jobs.queue_capacity", 64)
	v.SetDefault("jobs.job_timeout", 10*time.Minute)
	v.SetDefault("jobs.enqueue_timeout", 2*time.Second)
	v.SetDefault("jobs.ttl", redis.DefaultTTL)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.key_prefix", "job:")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.table", "jobs")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("postgres.min_conns", 0)
	v.SetDefault("postgres.max_conn_lifetime", time.Hour)

	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.report_prefix", "reports")
	v.SetDefault("storage.local.base_dir", "reports")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.cache_control", "")
	v.SetDefault("storage.gcs.verify_bucket", false)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("pubsub.queue_topic", "")
	v.SetDefault("pubsub.queue_subscription", "")

	v.SetDefault("ratelimit.submissions.rps", 1.0)
	v.SetDefault("ratelimit.submissions.burst", 5)
	v.SetDefault("ratelimit.submissions.idle", 10*time.Minute)
	v.SetDefault("ratelimit.fetch.rps", 0.5)
	v.SetDefault("ratelimit.fetch.burst", 2)
	v.SetDefault("ratelimit.fetch.idle", 10*time.Minute)

	v.SetDefault("hosts.blocked", []string{})
	v.SetDefault("hosts.allow_private", false)

	tr := telemetry.DefaultConfig()
	v.SetDefault("tracing.enabled", tr.Enabled)
	v.SetDefault("tracing.service_name", tr.ServiceName)
	v.SetDefault("tracing.otlp_endpoint", tr.OTLPEndpoint)
	v.SetDefault("tracing.insecure", tr.Insecure)
	v.SetDefault("tracing.sample_ratio", tr.SampleRatio)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Memory.LimitMB <= 0 {
		return fmt.Errorf("memory.limit_mb must be > 0")
	}
	if c.Memory.WarnRatio <= 0 || c.Memory.WarnRatio >= 1 {
		return fmt.Errorf("memory.warn_ratio must be in (0, 1)")
	}
	switch c.Browser.Driver {
	case DriverChromedp, DriverRod:
	default:
		return fmt.Errorf("browser.driver must be %q or %q, got %q", DriverChromedp, DriverRod, c.Browser.Driver)
	}
	if _, err := c.LoaderConfig(); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if c.Extract.MaxContentLength <= 0 {
		return fmt.Errorf("extract.max_content_length must be > 0")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be > 0")
	}
	switch c.Jobs.Store {
	case StoreAuto, StoreMemory:
	case StoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set for the redis job store")
		}
	case StorePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn must be set for the postgres job store")
		}
	default:
		return fmt.Errorf("jobs.store must be one of auto, memory, redis, postgres, got %q", c.Jobs.Store)
	}
	switch c.Jobs.Queue {
	case BackendMemory:
		if c.Jobs.QueueCapacity <= 0 {
			return fmt.Errorf("jobs.queue_capacity must be > 0")
		}
	case BackendPubSub:
		if c.PubSub.ProjectID == "" || c.PubSub.QueueTopic == "" || c.PubSub.QueueSubscription == "" {
			return fmt.Errorf("pubsub.project_id, pubsub.queue_topic and pubsub.queue_subscription are required for the pubsub queue")
		}
	default:
		return fmt.Errorf("jobs.queue must be %q or %q, got %q", BackendMemory, BackendPubSub, c.Jobs.Queue)
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if strings.TrimSpace(c.Storage.Local.BaseDir) == "" {
			return fmt.Errorf("storage.local.base_dir must be set for local storage")
		}
	case BackendGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set for gcs storage")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs, got %q", c.Storage.Backend)
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	if c.Prefetch.Enabled && c.Prefetch.Timeout <= 0 {
		return fmt.Errorf("prefetch.timeout must be > 0")
	}
	if c.Tracing.Enabled {
		if c.Tracing.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint must be set when tracing is enabled")
		}
		if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
			return fmt.Errorf("tracing.sample_ratio must be in [0, 1]")
		}
	}
	return nil
}

// LoggerOptions converts the logging section.
func (c Config) LoggerOptions() logging.Options {
	return logging.Options{Development: c.Logging.Development, Level: c.Logging.Level}
}

// BrowserOptions converts the browser section.
func (c Config) BrowserOptions() browser.Options {
	return browser.Options{
		Headless:     c.Browser.Headless,
		Minimal:      c.Browser.Minimal,
		UserAgent:    c.Browser.UserAgent,
		WindowWidth:  c.Browser.WindowWidth,
		WindowHeight: c.Browser.WindowHeight,
		JSHeapMB:     c.Browser.JSHeapMB,
		ExecPath:     c.Browser.ExecPath,
	}
}

// LoaderConfig converts the load section, resolving strategy names.
func (c Config) LoaderConfig() (loader.Config, error) {
	cfg := loader.Config{
		DirectTimeout:        c.Load.DirectTimeout,
		ScriptPollInterval:   c.Load.ScriptPollInterval,
		ScriptMaxPolls:       c.Load.ScriptMaxPolls,
		EarlyStopPause:       c.Load.EarlyStopPause,
		RawFetchPollInterval: c.Load.RawFetchPollInterval,
		RawFetchMaxPolls:     c.Load.RawFetchMaxPolls,
		TransientRetries:     c.Load.TransientRetries,
		BackoffBase:          c.Load.BackoffBase,
		BackoffMax:           c.Load.BackoffMax,
		MinContentChars:      c.Load.MinContentChars,
		WatchdogInterval:     c.Memory.WatchdogInterval,
		StopTimeout:          c.Load.StopTimeout,
	}
	for _, name := range c.Load.Strategies {
		s, err := loader.ParseStrategy(strings.TrimSpace(name))
		if err != nil {
			return loader.Config{}, err
		}
		cfg.Strategies = append(cfg.Strategies, s)
	}
	if err := cfg.Validate(); err != nil {
		return loader.Config{}, err
	}
	return cfg, nil
}

// ExtractorConfig converts the extract section.
func (c Config) ExtractorConfig() extract.Config {
	return extract.Config{
		MinChars:         c.Extract.MinChars,
		MinFragmentChars: c.Extract.MinFragmentChars,
		InterruptEvery:   c.Extract.InterruptEvery,
	}
}

// ScraperConfig assembles the fetch orchestrator settings.
func (c Config) ScraperConfig() scraper.Config {
	return scraper.Config{
		MemoryLimitMB:    c.Memory.LimitMB,
		WarnRatio:        c.Memory.WarnRatio,
		MaxContentLength: c.Extract.MaxContentLength,
		Browser:          c.BrowserOptions(),
		LaunchTimeout:    c.Browser.LaunchTimeout,
		ReadTimeout:      c.Browser.ReadTimeout,
		CollectMetadata:  c.Extract.CollectMetadata,
		MaxLinks:         c.Extract.MaxLinks,
		StaticMinChars:   c.Prefetch.MinChars,
	}
}

// PrefetchConfig converts the prefetch section.
func (c Config) PrefetchConfig() prefetch.Config {
	return prefetch.Config{
		UserAgent:           c.Prefetch.UserAgent,
		RespectRobots:       c.Prefetch.RespectRobots,
		Timeout:             c.Prefetch.Timeout,
		MaxBodyBytes:        c.Prefetch.MaxBodyBytes,
		BodyLengthThreshold: c.Prefetch.BodyLengthThreshold,
	}
}

// PipelineConfig assembles the scrape-to-report settings.
func (c Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{Topics: c.Topics, ReportPrefix: c.Storage.ReportPrefix}
}

// RedisStore converts the redis section, carrying the job TTL.
func (c Config) RedisStore() redis.Config {
	return redis.Config{
		Addr:        c.Redis.Addr,
		Password:    c.Redis.Password,
		DB:          c.Redis.DB,
		DialTimeout: c.Redis.DialTimeout,
		TTL:         c.Jobs.TTL,
		KeyPrefix:   c.Redis.KeyPrefix,
	}
}

// PostgresStore converts the postgres section, carrying the job TTL.
func (c Config) PostgresStore() postgres.Config {
	return postgres.Config{
		DSN:             c.Postgres.DSN,
		Table:           c.Postgres.Table,
		MaxConns:        c.Postgres.MaxConns,
		MinConns:        c.Postgres.MinConns,
		MaxConnLifetime: c.Postgres.MaxConnLifetime,
		TTL:             c.Jobs.TTL,
	}
}

// UsePubSubQueue reports whether jobs travel through Pub/Sub.
func (c Config) UsePubSubQueue() bool {
	return c.Jobs.Queue == BackendPubSub
}
