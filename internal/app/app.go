// Package app builds and holds the long-lived services of the topic scraper,
// acting as its dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/iantaiahn/topicscraper/internal/api"
	"github.com/iantaiahn/topicscraper/internal/browser"
	"github.com/iantaiahn/topicscraper/internal/browser/cdpsession"
	"github.com/iantaiahn/topicscraper/internal/browser/rodsession"
	"github.com/iantaiahn/topicscraper/internal/clock/system"
	"github.com/iantaiahn/topicscraper/internal/config"
	"github.com/iantaiahn/topicscraper/internal/dispatcher"
	"github.com/iantaiahn/topicscraper/internal/extract"
	"github.com/iantaiahn/topicscraper/internal/hash/sha256"
	"github.com/iantaiahn/topicscraper/internal/id/uuid"
	"github.com/iantaiahn/topicscraper/internal/jobs"
	"github.com/iantaiahn/topicscraper/internal/loader"
	"github.com/iantaiahn/topicscraper/internal/logging"
	"github.com/iantaiahn/topicscraper/internal/memory"
	"github.com/iantaiahn/topicscraper/internal/metrics"
	"github.com/iantaiahn/topicscraper/internal/pipeline"
	"github.com/iantaiahn/topicscraper/internal/policy/hosts"
	"github.com/iantaiahn/topicscraper/internal/policy/ratelimit"
	"github.com/iantaiahn/topicscraper/internal/prefetch"
	"github.com/iantaiahn/topicscraper/internal/progress"
	progresssinks "github.com/iantaiahn/topicscraper/internal/progress/sinks"
	memorypublisher "github.com/iantaiahn/topicscraper/internal/publisher/memory"
	gcppublisher "github.com/iantaiahn/topicscraper/internal/publisher/pubsub"
	queueMemory "github.com/iantaiahn/topicscraper/internal/queue/memory"
	queuePubSub "github.com/iantaiahn/topicscraper/internal/queue/pubsub"
	"github.com/iantaiahn/topicscraper/internal/scraper"
	gcsstorage "github.com/iantaiahn/topicscraper/internal/storage/gcs"
	localstorage "github.com/iantaiahn/topicscraper/internal/storage/local"
	memoryStorage "github.com/iantaiahn/topicscraper/internal/storage/memory"
	pgstore "github.com/iantaiahn/topicscraper/internal/storage/postgres"
	redisstore "github.com/iantaiahn/topicscraper/internal/storage/redis"
	"github.com/iantaiahn/topicscraper/internal/telemetry"
	"github.com/iantaiahn/topicscraper/internal/worker"
)

// Store backends reported by /health.
const (
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type closableQueue interface {
	jobs.Queue
	Close()
}

// Option customizes Build.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	launcher   browser.Launcher
	sampler    memory.Sampler
}

// WithLogger uses logger instead of building one from configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer registers the progress collectors on reg instead of the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithLauncher replaces the configured browser driver.
func WithLauncher(l browser.Launcher) Option {
	return func(o *options) { o.launcher = l }
}

// WithSampler replaces the process memory monitor.
func WithSampler(s memory.Sampler) Option {
	return func(o *options) { o.sampler = s }
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	sampler      memory.Sampler
	store        jobs.Store
	storeBackend string
	redis        *redisstore.JobStore
	postgres     *pgstore.JobStore
	blobs        jobs.BlobStore
	gcs          *gcsstorage.BlobStore
	pubsubClient *pubsub.Client
	publisher    jobs.Publisher
	gcpPublisher *gcppublisher.Publisher
	queue        closableQueue
	fetcher      *scraper.Fetcher
	pipeline     *pipeline.Pipeline
	progressHub  *progress.Hub
	dispatch     *dispatcher.Dispatcher
	apiServer    *api.Server
	tracing      *telemetry.Provider

	closed bool
}

// Build creates the application's dependencies. Every resource acquired
// before a failure is released before Build returns.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (a *App, err error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger, err = logging.New(cfg.LoggerOptions())
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	metrics.Init()

	a = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()
	a.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("browser_driver", cfg.Browser.Driver),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("queue_backend", cfg.Jobs.Queue),
		zap.Int("workers", cfg.Jobs.Workers),
	)

	a.sampler = o.sampler
	if a.sampler == nil {
		monitor, monErr := memory.NewMonitor(cfg.Memory.IncludeChildren)
		if monErr != nil {
			return nil, fmt.Errorf("memory monitor init failed: %w", monErr)
		}
		a.sampler = monitor
	}

	a.tracing, err = telemetry.Setup(ctx, cfg.Tracing, api.Version)
	if err != nil {
		return nil, fmt.Errorf("tracing init failed: %w", err)
	}
	if cfg.Tracing.Enabled {
		a.logger.Info("tracing enabled",
			zap.String("endpoint", cfg.Tracing.OTLPEndpoint),
			zap.Float64("sample_ratio", cfg.Tracing.SampleRatio),
		)
	}

	if err = a.setupJobStore(ctx); err != nil {
		return nil, err
	}
	if err = a.setupStorage(ctx); err != nil {
		return nil, err
	}
	if err = a.setupPubSub(ctx); err != nil {
		return nil, err
	}
	if err = a.setupFetcher(o.launcher); err != nil {
		return nil, err
	}
	if err = a.setupProgress(ctx, o.registerer); err != nil {
		return nil, err
	}
	a.setupWorkers()

	var reports jobs.ReportReader
	if rr, ok := a.blobs.(jobs.ReportReader); ok {
		reports = rr
	}
	a.apiServer = api.NewServer(api.Dependencies{
		Jobs:       a.store,
		Dispatcher: a.dispatch,
		Runner:     a.pipeline,
		Reports:    reports,
		Hosts:      hosts.New(cfg.Hosts),
		Limiter:    ratelimit.New(cfg.RateLimit.Submissions),
		IDs:        uuid.New(),
		Clock:      system.New(),
		Sampler:    a.sampler,
		Logger:     a.logger,
	}, api.Options{
		AuthEnabled:      cfg.Auth.Enabled,
		APIKey:           cfg.Auth.APIKey,
		CORSOrigins:      cfg.Server.CORSOrigins,
		EnqueueTimeout:   cfg.Jobs.EnqueueTimeout,
		StoreBackend:     a.storeBackend,
		MaxContentLength: cfg.Extract.MaxContentLength,
		Headless:         cfg.Browser.Headless,
	})
	a.logger.Info("application dependencies ready", zap.String("job_store", a.storeBackend))
	return a, nil
}

// setupJobStore picks the job store. An explicit redis or postgres
// selection must connect; "auto" tries Redis, then Postgres, and falls back
// to the in-memory store when neither is configured or reachable.
func (a *App) setupJobStore(ctx context.Context) error {
	choice := a.cfg.Jobs.Store
	if choice == config.StoreMemory {
		a.useMemoryStore()
		return nil
	}
	auto := choice == config.StoreAuto || choice == ""

	if choice == config.StoreRedis || (auto && a.cfg.Redis.Addr != "") {
		err := a.connectRedis(ctx)
		if err == nil {
			return nil
		}
		if !auto {
			return fmt.Errorf("redis job store init failed: %w", err)
		}
		a.logger.Warn("redis unavailable, trying next job store", zap.Error(err))
	}
	if choice == config.StorePostgres || (auto && a.cfg.Postgres.DSN != "") {
		err := a.connectPostgres(ctx)
		if err == nil {
			return nil
		}
		if !auto {
			return fmt.Errorf("postgres job store init failed: %w", err)
		}
		a.logger.Warn("postgres unavailable, using in-memory job store", zap.Error(err))
	}
	a.useMemoryStore()
	return nil
}

func (a *App) connectRedis(ctx context.Context) error {
	client, err := redisstore.NewClient(ctx, a.cfg.RedisStore())
	if err != nil {
		return err
	}
	a.redis = redisstore.NewJobStore(client, a.cfg.RedisStore())
	a.store = a.redis
	a.storeBackend = StoreRedis
	a.logger.Info("using redis job store", zap.String("addr", a.cfg.Redis.Addr))
	return nil
}

func (a *App) connectPostgres(ctx context.Context) error {
	pgCfg := a.cfg.PostgresStore()
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgstore.NewPool(connectCtx, pgCfg)
	if err != nil {
		return err
	}
	store, err := pgstore.NewJobStore(pool, pgCfg)
	if err != nil {
		pool.Close()
		return err
	}
	if err := store.EnsureSchema(connectCtx); err != nil {
		_ = store.Close()
		return err
	}
	if n, err := store.Purge(connectCtx); err != nil {
		a.logger.Warn("expired job purge failed", zap.Error(err))
	} else if n > 0 {
		a.logger.Info("purged expired jobs", zap.Int64("count", n))
	}
	a.postgres = store
	a.store = store
	a.storeBackend = StorePostgres
	a.logger.Info("using postgres job store", zap.String("table", pgCfg.Table))
	return nil
}

func (a *App) useMemoryStore() {
	a.store = memoryStorage.NewJobStore(a.cfg.Jobs.TTL)
	a.storeBackend = StoreMemory
}

func (a *App) setupStorage(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		store, err := gcsstorage.Dial(ctx, a.cfg.Storage.GCS)
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.gcs = store
		a.blobs = store
		a.logger.Info("using GCS report storage", zap.String("bucket", a.cfg.Storage.GCS.Bucket))
	case config.BackendLocal:
		store, err := localstorage.New(a.cfg.Storage.Local)
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = store
		a.logger.Info("using local report storage", zap.String("path", a.cfg.Storage.Local.BaseDir))
	default:
		a.blobs = memoryStorage.NewBlobStore()
		a.logger.Info("using in-memory report storage")
	}
	return nil
}

func (a *App) setupPubSub(ctx context.Context) error {
	ps := a.cfg.PubSub
	needClient := ps.ProjectID != "" && (ps.Topic != "" || a.cfg.UsePubSubQueue())
	if needClient {
		client, err := pubsub.NewClient(ctx, ps.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		a.gcpPublisher = gcppublisher.New(client)
		a.publisher = a.gcpPublisher
		a.logger.Info("Pub/Sub client initialized",
			zap.String("project", ps.ProjectID),
			zap.String("topic", ps.Topic),
		)
	} else {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
	}

	if a.cfg.UsePubSubQueue() {
		a.queue = queuePubSub.New(a.pubsubClient, ps.QueueTopic, ps.QueueSubscription, a.logger)
		a.logger.Info("using Pub/Sub job queue",
			zap.String("topic", ps.QueueTopic),
			zap.String("subscription", ps.QueueSubscription),
		)
		return nil
	}
	a.queue = queueMemory.NewQueue(a.cfg.Jobs.QueueCapacity)
	return nil
}

func (a *App) setupFetcher(launcher browser.Launcher) error {
	if launcher == nil {
		switch a.cfg.Browser.Driver {
		case config.DriverRod:
			launcher = rodsession.NewLauncher(a.logger)
		default:
			launcher = cdpsession.NewLauncher(a.logger)
		}
	}
	loaderCfg, err := a.cfg.LoaderConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	engine, err := loader.NewEngine(loaderCfg, a.logger)
	if err != nil {
		return fmt.Errorf("load engine init failed: %w", err)
	}
	a.fetcher = scraper.New(
		a.cfg.ScraperConfig(),
		launcher,
		engine,
		extract.New(a.cfg.ExtractorConfig()),
		a.sampler,
		a.logger,
	)
	if a.cfg.Prefetch.Enabled {
		a.fetcher.WithPrefetcher(prefetch.New(a.cfg.PrefetchConfig(), a.logger))
		a.logger.Info("static prefetch enabled",
			zap.Bool("respect_robots", a.cfg.Prefetch.RespectRobots),
			zap.Int("min_chars", a.cfg.Prefetch.MinChars),
		)
	}
	a.pipeline = pipeline.New(a.cfg.PipelineConfig(), a.fetcher, a.blobs, sha256.New(), a.logger).
		WithThrottle(ratelimit.New(a.cfg.RateLimit.Fetch))
	return nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) error {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	a.progressHub = progress.NewHub(progress.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      a.logger.Named("progress_hub"),
	},
		progresssinks.NewStoreSink(a.store, a.logger.Named("progress_store")),
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	)
	return nil
}

func (a *App) setupWorkers() {
	clock := system.New()
	workerCfg := worker.Config{
		Topic:      a.cfg.PubSub.Topic,
		JobTimeout: a.cfg.Jobs.JobTimeout,
		Headless:   a.cfg.Browser.Headless,
	}
	runners := make([]dispatcher.Runner, 0, a.cfg.Jobs.Workers)
	for i := 0; i < a.cfg.Jobs.Workers; i++ {
		runners = append(runners, worker.New(
			a.queue,
			a.store,
			a.pipeline,
			a.publisher,
			a.progressHub,
			a.sampler,
			clock,
			workerCfg,
			a.logger.With(zap.Int("index", i)),
		))
	}
	a.dispatch = dispatcher.New(a.queue, runners...)
	a.logger.Info("worker pool ready",
		zap.Int("workers", len(runners)),
		zap.Duration("job_timeout", workerCfg.JobTimeout),
		zap.String("topic", workerCfg.Topic),
	)
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Fetcher returns the fetch orchestrator.
func (a *App) Fetcher() *scraper.Fetcher { return a.fetcher }

// Pipeline returns the scrape-to-report pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Fetch runs one fetch through the orchestrator.
func (a *App) Fetch(ctx context.Context, req scraper.Request) scraper.Outcome {
	return a.fetcher.Fetch(ctx, req)
}

// Process runs the full pipeline for one URL.
func (a *App) Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	return a.pipeline.Run(ctx, req)
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// StoreBackend reports which job store is active.
func (a *App) StoreBackend() string { return a.storeBackend }

// Run starts the worker pool and the HTTP server and blocks until ctx is
// canceled or SIGINT/SIGTERM arrives. In-flight jobs get the shutdown
// timeout to finish before they are canceled.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Workers()))
		a.dispatch.Run(workerCtx)
	}()

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr(),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	a.queue.Close()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers still busy, canceling in-flight jobs")
		cancelWorkers()
		<-workersDone
	}

	if err := <-serveErr; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Close releases every resource. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	if a.closed {
		return nil
	}
	a.closed = true
	var errs []error
	if a.queue != nil {
		a.queue.Close()
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.gcpPublisher != nil {
		if err := a.gcpPublisher.Close(); err != nil {
			a.logger.Warn("pubsub close failed", zap.Error(err))
			errs = append(errs, err)
		}
	} else if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.postgres != nil {
		_ = a.postgres.Close()
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.logger.Warn("tracing shutdown failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
