// Package server builds the application's dependencies and runs the HTTP
// server and the crawl scheduler.
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
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/social-monitor/internal/api"
	"github.com/JakeFAU/social-monitor/internal/archive"
	"github.com/JakeFAU/social-monitor/internal/clock/system"
	"github.com/JakeFAU/social-monitor/internal/config"
	"github.com/JakeFAU/social-monitor/internal/id/uuid"
	"github.com/JakeFAU/social-monitor/internal/monitor"
	"github.com/JakeFAU/social-monitor/internal/orchestrator"
	"github.com/JakeFAU/social-monitor/internal/progress"
	progresssinks "github.com/JakeFAU/social-monitor/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/social-monitor/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/social-monitor/internal/publisher/pubsub"
	"github.com/JakeFAU/social-monitor/internal/rules"
	"github.com/JakeFAU/social-monitor/internal/stats"
	gcsstorage "github.com/JakeFAU/social-monitor/internal/storage/gcs"
	localstorage "github.com/JakeFAU/social-monitor/internal/storage/local"
	memorystorage "github.com/JakeFAU/social-monitor/internal/storage/memory"
	pgstore "github.com/JakeFAU/social-monitor/internal/storage/postgres"
	rediscache "github.com/JakeFAU/social-monitor/internal/storage/redis"
	"github.com/JakeFAU/social-monitor/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Options override infrastructure for tests and embedding.
type Options struct {
	// HTTPClient is shared by every adapter; nil uses a 30s timeout client.
	HTTPClient *http.Client
	// Registerer receives the progress collectors; nil uses the default registry.
	Registerer prometheus.Registerer
	// Adapters replaces the adapters built from the platform config.
	Adapters []monitor.Adapter
	Clock    monitor.Clock
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  monitor.Clock
	ids    monitor.IDGenerator

	ruleStore monitor.RuleStore
	postStore monitor.PostStore
	runRepo   store.RunRepository

	pg              *pgstore.Store
	redis           *goredis.Client
	blobs           *gcsstorage.BlobStore
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	progressHub     *progress.Hub

	crawler   *orchestrator.Serial
	scheduler *orchestrator.Scheduler
	rules     *rules.Service
	stats     *stats.Aggregator
	apiServer *api.Server
}

// Build creates the application's dependencies. On error everything opened
// so far is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  opts.Clock,
		ids:    uuid.New(),
	}
	if app.clock == nil {
		app.clock = system.New()
	}
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.WithoutCancel(ctx))
		}
	}()

	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Bool("postgres", cfg.DB.DSN != ""),
		zap.Bool("redis", cfg.Redis.Addr != ""),
	)

	if err = setupStores(ctx, app); err != nil {
		return nil, err
	}
	archiver, err := setupArchive(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	emitter, err := setupProgress(ctx, app, opts.Registerer)
	if err != nil {
		return nil, err
	}

	adapters := opts.Adapters
	if adapters == nil {
		adapters = buildAdapters(cfg, opts.HTTPClient, app.logger)
	}
	orch, err := orchestrator.New(orchestrator.Config{
		Concurrency:      cfg.Crawl.Concurrency,
		DispatchTimeout:  cfg.DispatchTimeout(),
		MaxResults:       cfg.Crawl.MaxResults,
		Lookback:         cfg.Lookback(),
		TransientRetries: cfg.Crawl.TransientRetries,
		NotifyTopic:      cfg.Crawl.NotifyTopic,
	}, orchestrator.Deps{
		Rules:     app.ruleStore,
		Posts:     app.postStore,
		Adapters:  adapters,
		Slots:     buildSlots(cfg),
		Clock:     app.clock,
		IDs:       app.ids,
		Publisher: publisher,
		Archiver:  archiver,
		Progress:  emitter,
		Logger:    app.logger.Named("orchestrator"),
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}
	app.crawler = orchestrator.NewSerial(orch, cfg.RunTimeout())
	app.scheduler = orchestrator.NewScheduler(app.crawler, cfg.Interval(), app.logger.Named("scheduler"))

	app.rules, err = rules.NewService(app.ruleStore, app.ids, app.clock, emitter, app.logger.Named("rules"))
	if err != nil {
		return nil, fmt.Errorf("rule service init failed: %w", err)
	}
	app.stats, err = stats.New(app.postStore, app.ruleStore, app.clock, app.logger.Named("stats"))
	if err != nil {
		return nil, fmt.Errorf("stats init failed: %w", err)
	}

	app.apiServer = api.NewServer(cfg, api.Deps{
		Crawler: app.crawler,
		Rules:   app.rules,
		Stats:   app.stats,
		Posts:   app.postStore,
		Runs:    app.runRepo,
		Clock:   app.clock,
		Ready:   app.Ready,
		Logger:  app.logger.Named("api"),
	})
	return app, nil
}

// Run serves HTTP and the scheduler until ctx is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		a.scheduler.Run(ctx)
	}()

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	<-schedulerDone

	return a.Close(shutdownCtx)
}

// CrawlOnce executes a single crawl run.
func (a *App) CrawlOnce(ctx context.Context) (monitor.RunResult, error) {
	return a.crawler.CrawlAll(ctx)
}

// Snapshot computes the reporting snapshot for window.
func (a *App) Snapshot(ctx context.Context, window time.Duration) (stats.Snapshot, error) {
	return a.stats.Snapshot(ctx, window)
}

// Rules exposes the rule service.
func (a *App) Rules() *rules.Service {
	return a.rules
}

// Handler returns the API handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Migrate applies the Postgres schema.
func (a *App) Migrate(ctx context.Context) error {
	if a.pg == nil {
		return errors.New("db.dsn is not set; nothing to migrate")
	}
	if err := a.pg.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.logger.Info("schema applied")
	return nil
}

// Ready reports whether the external stores respond.
func (a *App) Ready(ctx context.Context) error {
	if a.pg != nil {
		if err := a.pg.Ping(ctx); err != nil {
			return err
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
	}
	return nil
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		a.progressHub = nil
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Close()
		a.pubsubPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.blobs != nil {
		if err := a.blobs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.blobs = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
		a.redis = nil
	}
	if a.pg != nil {
		a.pg.Close()
		a.pg = nil
	}
}

func setupStores(ctx context.Context, app *App) error {
	cfg := app.cfg
	if cfg.DB.DSN == "" {
		app.logger.Warn("No DSN specified for database, using in-memory stores")
		mem := memorystorage.NewStore(app.clock)
		app.ruleStore = mem
		app.postStore = mem
		app.runRepo = memorystorage.NewRunStore()
	} else {
		pg, err := pgstore.New(ctx, pgstore.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		app.pg = pg
		app.ruleStore = pg
		app.postStore = pg
		app.runRepo = pg
		app.logger.Info("postgres store initialized")
	}
	if !cfg.Progress.PersistRunStats {
		app.runRepo = nil
	}

	if cfg.Redis.Addr != "" {
		app.redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		app.postStore = rediscache.NewClaimCache(app.postStore, app.redis, cfg.ClaimTTL(), app.logger.Named("claim_cache"))
		app.logger.Info("redis claim cache enabled",
			zap.String("addr", cfg.Redis.Addr),
			zap.Duration("ttl", cfg.ClaimTTL()),
		)
	}
	return nil
}

func setupArchive(ctx context.Context, app *App) (*archive.Archiver, error) {
	cfg := app.cfg.Storage
	switch {
	case cfg.GCSBucket != "":
		blobs, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.blobs = blobs
		app.logger.Info("archiving runs to GCS", zap.String("bucket", cfg.GCSBucket), zap.String("prefix", cfg.Prefix))
		return archive.New(blobs), nil
	case cfg.LocalDir != "":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("archiving runs to local disk", zap.String("path", cfg.LocalDir))
		return archive.New(blobs), nil
	default:
		app.logger.Info("run archiving disabled")
		return nil, nil
	}
}

func setupPublisher(ctx context.Context, app *App) (monitor.Publisher, error) {
	if app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("No Pub/Sub project configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = gcppublisher.New(app.pubsubClient, app.cfg.PubSub.TopicPrefix)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic_prefix", app.cfg.PubSub.TopicPrefix),
	)
	return app.pubsubPublisher, nil
}

func setupProgress(ctx context.Context, app *App, reg prometheus.Registerer) (progress.Emitter, error) {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(app.logger.Named("progress_log")),
		promSink,
	}
	if app.runRepo != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(app.runRepo, app.logger.Named("progress_store")))
		app.logger.Debug("Added progress store sink")
	}
	pc := app.cfg.Progress
	hubCfg := progress.Config{
		BufferSize:     pc.BufferSize,
		MaxBatchEvents: pc.BatchMaxEvents,
		MaxBatchWait:   time.Duration(pc.BatchMaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(pc.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return app.progressHub, nil
}
