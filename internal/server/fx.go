// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-engagement-crawler/internal/api"
	"github.com/JakeFAU/news-engagement-crawler/internal/catalog"
	"github.com/JakeFAU/news-engagement-crawler/internal/clock/system"
	"github.com/JakeFAU/news-engagement-crawler/internal/config"
	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
	"github.com/JakeFAU/news-engagement-crawler/internal/dispatcher"
	"github.com/JakeFAU/news-engagement-crawler/internal/engagement"
	collyfetcher "github.com/JakeFAU/news-engagement-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/news-engagement-crawler/internal/hash/sha256"
	"github.com/JakeFAU/news-engagement-crawler/internal/id/uuid"
	"github.com/JakeFAU/news-engagement-crawler/internal/logging"
	"github.com/JakeFAU/news-engagement-crawler/internal/metrics"
	"github.com/JakeFAU/news-engagement-crawler/internal/pipeline"
	"github.com/JakeFAU/news-engagement-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/news-engagement-crawler/internal/policy/retry"
	"github.com/JakeFAU/news-engagement-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/news-engagement-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/news-engagement-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/news-engagement-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/news-engagement-crawler/internal/queue/memory"
	"github.com/JakeFAU/news-engagement-crawler/internal/scheduler"
	"github.com/JakeFAU/news-engagement-crawler/internal/service"
	"github.com/JakeFAU/news-engagement-crawler/internal/sitemap"
	"github.com/JakeFAU/news-engagement-crawler/internal/source"
	"github.com/JakeFAU/news-engagement-crawler/internal/source/tuoitre"
	"github.com/JakeFAU/news-engagement-crawler/internal/source/vnexpress"
	gcsstorage "github.com/JakeFAU/news-engagement-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/news-engagement-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/news-engagement-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/news-engagement-crawler/internal/storage/postgres"
	"github.com/JakeFAU/news-engagement-crawler/internal/store"
	"github.com/JakeFAU/news-engagement-crawler/internal/telemetry"
	"github.com/JakeFAU/news-engagement-crawler/internal/worker"
)

const tracerName = "github.com/JakeFAU/news-engagement-crawler/internal/pipeline"

// App contains the application's dependencies.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	registerer prometheus.Registerer

	location *time.Location
	clock    *system.Clock
	ids      *uuid.Generator
	tracer   trace.Tracer
	fetcher  crawler.Fetcher

	pool      *pgxpool.Pool
	sitemaps  store.SitemapRepository
	articles  store.ArticleRepository
	snapshots store.SnapshotRepository
	runs      store.RunRepository

	registry    *source.Registry
	service     *service.Service
	progressHub *progress.Hub
	queue       *queueMemory.Queue
	dispatch    *dispatcher.Dispatcher
	schedule    *scheduler.Scheduler
	apiServer   *api.Server

	storage         *storage.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	tracerShutdown  func(context.Context) error
}

// Option customizes Build.
type Option func(*App)

// WithLogger replaces the logger built from config.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithRegisterer selects the Prometheus registry for run metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// Build creates the application's dependencies. Nothing runs until Run.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	app := &App{cfg: cfg, registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		logger, err := logging.New(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		app.logger = logger
		zap.ReplaceGlobals(logger)
	}
	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.Strings("sources", cfg.EnabledSourceNames()),
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("storage_backend", cfg.Storage.Backend),
	)
	metrics.Init()

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	app.location = loc
	app.clock = system.NewIn(loc)
	app.ids = uuid.New()

	tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown
	app.tracer = tp.Tracer(tracerName)

	if err := setupDatabase(ctx, app); err != nil {
		app.Close(ctx)
		return nil, err
	}
	steps := []func(context.Context, *App) error{
		setupRegistry,
		setupService,
		setupWorkers,
		setupAPI,
	}
	for _, step := range steps {
		if err := step(ctx, app); err != nil {
			app.Close(ctx)
			return nil, err
		}
	}
	return app, nil
}

// Service exposes the crawl service for one-shot CLI runs.
func (a *App) Service() *service.Service {
	return a.service
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Scheduler returns the cron scheduler, or nil when scheduling is disabled.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.schedule
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts workers, the scheduler and the HTTP server, and blocks until the
// context is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
		a.dispatch.Run(ctx)
	}()

	if a.schedule != nil {
		a.schedule.Start(ctx)
		a.logger.Info("scheduler started", zap.Int("jobs", len(a.schedule.Entries())))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if a.schedule != nil {
		if err := a.schedule.Stop(shutdownCtx); err != nil {
			a.logger.Warn("scheduler stop failed", zap.Error(err))
		}
	}
	a.queue.Close()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not drain before shutdown timeout")
	}
	a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases infrastructure in reverse dependency order. It is safe to
// call on a partially built App.
func (a *App) Close(ctx context.Context) {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync fails on stderr/stdout for some terminals; nothing useful to do then.
	_ = a.logger.Sync()
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.Database.Driver == "memory" {
		app.logger.Warn("using in-memory persistence; caches and results are lost on restart")
		cache := memoryStorage.NewCacheStore()
		app.sitemaps, app.articles, app.snapshots = cache, cache, cache
		app.runs = memoryStorage.NewRunStore()
		return nil
	}
	pool, err := pgstore.Open(ctx, pgstore.Config{
		DSN:             app.cfg.Database.PostgresDSN(),
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	app.pool = pool
	if app.cfg.Database.AutoMigrate {
		if err := pgstore.EnsureSchema(ctx, pool); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
		app.logger.Info("postgres schema ensured")
	}
	app.sitemaps = pgstore.NewSitemapStore(pool)
	app.articles = pgstore.NewArticleStore(pool)
	app.snapshots = pgstore.NewSnapshotStore(pool)
	app.runs = pgstore.NewRunStore(pool)
	app.logger.Info("postgres persistence initialized",
		zap.String("host", app.cfg.Database.Host),
		zap.String("database", app.cfg.Database.Name),
	)
	return nil
}

func setupRegistry(_ context.Context, app *App) error {
	rl := app.cfg.HTTP.RateLimit
	hosts := make(map[string]ratelimit.HostLimit, len(rl.Hosts))
	for _, o := range rl.Hosts {
		hosts[o.Host] = ratelimit.HostLimit{RPS: o.RPS, Burst: o.Burst}
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   rl.RPS,
		DefaultBurst: rl.Burst,
		Hosts:        hosts,
	})
	retries := retry.New(retry.Config{
		MaxAttempts: app.cfg.HTTP.Retry.MaxAttempts,
		BaseDelay:   app.cfg.HTTP.Retry.BaseDelay,
		MaxDelay:    app.cfg.HTTP.Retry.MaxDelay,
	})
	app.fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:    app.cfg.HTTP.UserAgent,
		Timeout:      app.cfg.FetchTimeout(),
		MaxBodyBytes: app.cfg.HTTP.MaxBodyBytes,
		Retry:        retries,
	}, limiter)
	app.logger.Info("using colly fetcher",
		zap.Float64("rate_limit_rps", rl.RPS),
		zap.Int("rate_limit_burst", rl.Burst),
		zap.Int("rate_limit_overrides", len(hosts)),
		zap.Int("retry_max_attempts", app.cfg.HTTP.Retry.MaxAttempts),
	)

	registry, err := buildRegistry(app.cfg, app.fetcher, app.location)
	if err != nil {
		return err
	}
	app.registry = registry
	return nil
}

// buildRegistry registers an adapter for every enabled source.
func buildRegistry(cfg config.Config, fetcher crawler.Fetcher, loc *time.Location) (*source.Registry, error) {
	registry := source.NewRegistry()
	for _, name := range cfg.EnabledSourceNames() {
		src := cfg.EnabledSources()[name]
		userAgent := src.UserAgent
		if userAgent == "" {
			userAgent = cfg.HTTP.UserAgent
		}
		var adapter crawler.SourceAdapter
		switch name {
		case vnexpress.Name:
			adapter = vnexpress.New(fetcher, vnexpress.Config{
				SitemapBase:   src.SitemapBase,
				MetadataURL:   src.MetadataURL,
				EngagementURL: src.EngagementURL,
				UserAgent:     userAgent,
			})
		case tuoitre.Name:
			adapter = tuoitre.New(fetcher, tuoitre.Config{
				SitemapBase:   src.SitemapBase,
				EngagementURL: src.EngagementURL,
				UserAgent:     userAgent,
				Location:      loc,
			})
		default:
			return nil, fmt.Errorf("sources.%s: no adapter for this source", name)
		}
		if err := registry.Register(adapter, crawler.RankPolicy(src.RankBy)); err != nil {
			return nil, fmt.Errorf("register source: %w", err)
		}
	}
	return registry, nil
}

func setupService(ctx context.Context, app *App) error {
	logger := app.logger
	pipe, err := pipeline.New(pipeline.Config{
		Sitemaps: sitemap.New(sitemap.Config{
			Repo:     app.sitemaps,
			Fetcher:  app.fetcher,
			Clock:    app.clock,
			Location: app.location,
			Logger:   logger,
		}),
		Catalog:    catalog.New(app.articles, app.cfg.Crawler.MetadataChunkSize, logger),
		Engagement: engagement.New(app.cfg.Crawler.MaxEngagementPages, logger),
		Snapshots:  app.snapshots,
		Clock:      app.clock,
		Location:   app.location,
		BatchSize:  app.cfg.Crawler.BatchSize,
		TopN:       app.cfg.Crawler.TopN,
		Logger:     logger,
		Tracer:     app.tracer,
	})
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}

	emitter, err := setupProgress(ctx, app)
	if err != nil {
		return err
	}
	blobs, err := setupStorage(ctx, app)
	if err != nil {
		return err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return err
	}

	app.service, err = service.New(service.Config{
		Registry:      app.registry,
		Pipeline:      pipe,
		Emitter:       emitter,
		Blobs:         blobs,
		ArchivePrefix: app.cfg.Storage.Prefix,
		Publisher:     publisher,
		Topic:         app.cfg.PubSub.Topic,
		Hasher:        sha256.New(),
		IDs:           app.ids,
		Clock:         app.clock,
		DefaultDays:   app.cfg.Crawler.DefaultDays,
		MaxDays:       app.cfg.Crawler.MaxDays,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("service init failed: %w", err)
	}
	return nil
}

func setupProgress(ctx context.Context, app *App) (progress.Emitter, error) {
	sinkList := []progress.Sink{
		progresssinks.NewStoreSink(app.runs, app.logger.Named("progress_store")),
	}
	promSink, err := progresssinks.NewPrometheusSink(app.registerer)
	if err != nil {
		return nil, err
	}
	sinkList = append(sinkList, promSink)
	if app.cfg.Progress.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger))
		app.logger.Debug("added progress log sink")
	}
	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   app.cfg.Progress.MaxBatchWait,
		SinkTimeout:    app.cfg.Progress.SinkTimeout,
		LifecycleWait:  app.cfg.Progress.LifecycleWait,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.logger,
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
		zap.Int("sinks", len(sinkList)),
	)
	return app.progressHub, nil
}

func setupStorage(ctx context.Context, app *App) (crawler.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("archiving snapshots to GCS", zap.String("bucket", app.cfg.Storage.GCSBucket))
		return blobStore, nil
	case "local":
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("archiving snapshots to local disk", zap.String("path", app.cfg.Storage.LocalDir))
		return blobStore, nil
	case "memory":
		app.logger.Info("archiving snapshots in memory")
		return memoryStorage.NewBlobStore(), nil
	default:
		app.logger.Info("snapshot archiving disabled")
		return nil, nil
	}
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, error) {
	if !app.cfg.PubSub.Enabled {
		app.logger.Info("Pub/Sub disabled, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubPublisher = gcppublisher.New(client)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.Topic),
	)
	return app.pubsubPublisher, nil
}

func setupWorkers(_ context.Context, app *App) error {
	app.queue = queueMemory.NewQueue(app.cfg.Crawler.QueueDepth)
	workerCfg := worker.Config{RunTimeout: app.cfg.Crawler.RunTimeout}
	app.dispatch = dispatcher.NewPool(app.queue, app.service, app.cfg.Crawler.Workers, workerCfg, app.logger)
	app.logger.Info("worker pool configured",
		zap.Int("workers", app.cfg.Crawler.Workers),
		zap.Int("queue_depth", app.cfg.Crawler.QueueDepth),
		zap.Duration("run_timeout", workerCfg.RunTimeout),
	)

	if !app.cfg.Schedule.Enabled || len(app.cfg.Schedule.Jobs) == 0 {
		return nil
	}
	jobs := make([]scheduler.Job, 0, len(app.cfg.Schedule.Jobs))
	for _, j := range app.cfg.Schedule.Jobs {
		days := j.Days
		if days <= 0 {
			// Match the window the API fills in so pending crawls dedupe.
			days = app.cfg.Crawler.DefaultDays
		}
		jobs = append(jobs, scheduler.Job{Source: j.Source, Days: days, Spec: j.Cron})
	}
	sched, err := scheduler.New(app.dispatch, scheduler.Config{
		Jobs:     jobs,
		Location: app.location,
		IDs:      app.ids,
		Logger:   app.logger,
	})
	if err != nil {
		return fmt.Errorf("scheduler init failed: %w", err)
	}
	app.schedule = sched
	return nil
}

func setupAPI(_ context.Context, app *App) error {
	var ready func(context.Context) error
	if app.pool != nil {
		ready = app.pool.Ping
	}
	srv, err := api.NewServer(api.Config{
		Crawls:         app.service,
		Snapshots:      app.snapshots,
		Runs:           app.runs,
		Jobs:           app.dispatch,
		ETags:          sha256.New(),
		Ready:          ready,
		RequestTimeout: app.cfg.Server.RequestTimeout,
		CrawlTimeout:   app.cfg.Server.CrawlTimeout,
		Logger:         app.logger,
	})
	if err != nil {
		return fmt.Errorf("api init failed: %w", err)
	}
	app.apiServer = srv
	return nil
}
