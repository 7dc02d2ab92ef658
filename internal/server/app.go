// Package server is the composition root: it builds every dependency from
// configuration and runs the HTTP server, workers and scheduler.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/candidate-discovery/internal/api"
	"github.com/JakeFAU/candidate-discovery/internal/archive"
	"github.com/JakeFAU/candidate-discovery/internal/browser/headless"
	"github.com/JakeFAU/candidate-discovery/internal/clock/system"
	"github.com/JakeFAU/candidate-discovery/internal/config"
	"github.com/JakeFAU/candidate-discovery/internal/controller"
	"github.com/JakeFAU/candidate-discovery/internal/discovery"
	"github.com/JakeFAU/candidate-discovery/internal/dispatcher"
	"github.com/JakeFAU/candidate-discovery/internal/extractor"
	"github.com/JakeFAU/candidate-discovery/internal/logging"
	"github.com/JakeFAU/candidate-discovery/internal/metrics"
	"github.com/JakeFAU/candidate-discovery/internal/navigator"
	"github.com/JakeFAU/candidate-discovery/internal/policy/ratelimit"
	"github.com/JakeFAU/candidate-discovery/internal/progress"
	memorypublisher "github.com/JakeFAU/candidate-discovery/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/candidate-discovery/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/candidate-discovery/internal/queue/memory"
	"github.com/JakeFAU/candidate-discovery/internal/quota"
	"github.com/JakeFAU/candidate-discovery/internal/registry"
	redissink "github.com/JakeFAU/candidate-discovery/internal/registry/redis"
	"github.com/JakeFAU/candidate-discovery/internal/retry"
	"github.com/JakeFAU/candidate-discovery/internal/scheduler"
	gcsstorage "github.com/JakeFAU/candidate-discovery/internal/storage/gcs"
	localstorage "github.com/JakeFAU/candidate-discovery/internal/storage/local"
	memoryStorage "github.com/JakeFAU/candidate-discovery/internal/storage/memory"
	pgstore "github.com/JakeFAU/candidate-discovery/internal/storage/postgres"
	"github.com/JakeFAU/candidate-discovery/internal/taskid"
	"github.com/JakeFAU/candidate-discovery/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	clock           discovery.Clock
	apiServer       *api.Server
	dispatch        *dispatcher.Dispatcher
	scheduler       *scheduler.Scheduler
	queue           *queueMemory.Queue
	registry        *registry.Registry
	mirror          *progress.Hub
	ledger          *quota.Ledger
	controller      *controller.Controller
	browsers        *headless.Factory
	redis           *goredis.Client
	pgStore         *pgstore.Store
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
	tracer          *sdktrace.TracerProvider
	ready           map[string]api.ReadinessCheck
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
		a.dispatch.Run(ctx)
	}()

	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.scheduler.Stop(shutdownCtx)
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before shutdown deadline")
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.mirror != nil {
		if err := a.mirror.Close(ctx); err != nil {
			a.logger.Warn("task mirror flush failed", zap.Error(err))
		}
	}
	a.closeInfrastructure()
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.browsers != nil {
		a.browsers.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
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
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     cfg.Telemetry.Version,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		tracer: tp,
		ready:  map[string]api.ReadinessCheck{},
	}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Int("concurrency", cfg.Discovery.Concurrency),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	if err := setupDatabase(ctx, app); err != nil {
		return nil, err
	}
	if err := setupRedis(ctx, app); err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	app.ledger, err = setupLedger(ctx, app)
	if err != nil {
		return nil, err
	}

	app.registry = setupRegistry(app)

	nav, err := setupNavigator(app)
	if err != nil {
		return nil, err
	}

	var candidates discovery.CandidateStore = memoryStorage.NewCandidateStore(memoryStorage.WithLimit(cfg.Storage.CandidateLimit))
	if app.pgStore != nil {
		candidates = app.pgStore
	}

	app.controller = controller.New(controller.Deps{
		Store:      app.registry,
		Ledger:     app.ledger,
		Navigator:  nav,
		Extractor:  extractor.New(cfg.Extractor.Selectors),
		Retry: retry.New(retry.Config{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: time.Duration(cfg.Retry.BackoffInitialMs) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Retry.BackoffMaxMs) * time.Millisecond,
		}),
		Clock:      app.clock,
		Candidates: candidates,
		Archiver:   archive.New(blobStore),
		Publisher:  publisher,
		Logger:     logger,
	}, controller.Config{
		ReservationBatch: cfg.Discovery.ReservationBatch,
		Topic:            cfg.PubSub.TopicName,
	})

	app.queue = queueMemory.NewQueue(cfg.Discovery.QueueDepth)
	app.dispatch = dispatcher.NewPool(cfg.Discovery.Concurrency, app.queue, app.registry, app.controller, logger)
	app.scheduler = scheduler.New(cfg.Registry.PruneSchedule, cfg.Retention(), app.registry, app.ledger, app.clock, logger)

	app.apiServer = api.NewServer(api.Deps{
		Tasks:  app.registry,
		Runner: app.controller,
		Queue:  app.dispatch,
		Quota:  app.ledger,
		Clock:  app.clock,
		Ready:  app.ready,
	}, *cfg, logger)

	return app, nil
}

func setupStorage(ctx context.Context, app *App) (discovery.BlobStore, error) {
	var blobStore discovery.BlobStore
	var err error
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend")
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err = gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket: app.cfg.Storage.Bucket,
			Prefix: app.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", app.cfg.Storage.Bucket))
	case "local":
		app.logger.Info("using local storage backend")
		blobStore, err = localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", app.cfg.Storage.BaseDir))
	default:
		app.logger.Info("using in-memory storage backend")
		blobStore = memoryStorage.NewBlobStore()
	}
	return blobStore, nil
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("no DSN specified for database, candidates are kept in memory")
		return nil
	}
	var err error
	app.pgStore, err = pgstore.NewStore(ctx, pgstore.Config{
		DSN:             app.cfg.DB.DSN,
		CandidatesTable: app.cfg.DB.CandidatesTable,
		TasksTable:      app.cfg.DB.TasksTable,
		MaxConns:        app.cfg.DB.MaxConns,
		MinConns:        app.cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("candidate store init failed: %w", err)
	}
	app.logger.Info("candidate store initialized", zap.String("table", app.cfg.DB.CandidatesTable))
	return nil
}

// setupLedger seeds today's totals from Postgres when a database is
// configured; otherwise the ledger starts empty.
func setupLedger(ctx context.Context, app *App) (*quota.Ledger, error) {
	limits := map[quota.Kind]int{
		quota.KindProfiles: app.cfg.Quota.ProfilesPerDay,
		quota.KindMessages: app.cfg.Quota.MessagesPerDay,
	}
	loc := quota.WithLocation(app.cfg.Location())
	if app.pgStore == nil {
		return quota.NewLedger(app.clock, limits, loc), nil
	}
	store, err := app.pgStore.QuotaStore(app.cfg.DB.QuotaTable)
	if err != nil {
		return nil, fmt.Errorf("quota store init failed: %w", err)
	}
	ledger, err := quota.OpenLedger(ctx, app.clock, limits, store, loc)
	if err != nil {
		return nil, fmt.Errorf("quota ledger init failed: %w", err)
	}
	app.logger.Info("quota ledger seeded from database", zap.String("table", app.cfg.DB.QuotaTable))
	return ledger, nil
}

func setupRedis(ctx context.Context, app *App) error {
	if app.cfg.Registry.RedisURL == "" {
		app.logger.Info("no redis url configured, task snapshots are not mirrored")
		return nil
	}
	client, err := redissink.NewClient(ctx, app.cfg.Registry.RedisURL)
	if err != nil {
		return fmt.Errorf("redis init failed: %w", err)
	}
	app.redis = client
	app.ready["redis"] = func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
	app.logger.Info("redis task mirror initialized")
	return nil
}

func setupPublisher(ctx context.Context, app *App) (discovery.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = app.pubsubClient.Publisher(app.cfg.PubSub.TopicName)
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(app.pubsubPublisher), nil
}

func setupRegistry(app *App) *registry.Registry {
	opts := []registry.Option{registry.WithLogger(app.logger)}
	var sinks []discovery.TaskSink
	if app.redis != nil {
		sink := redissink.New(app.redis, time.Duration(app.cfg.Registry.RedisTTLHours)*time.Hour)
		sinks = append(sinks, sink)
		opts = append(opts, registry.WithLoader(sink))
	}
	if app.pgStore != nil {
		sinks = append(sinks, app.pgStore)
	}
	if len(sinks) > 0 {
		app.mirror = progress.NewHub(progress.Config{
			BufferSize:   app.cfg.Registry.MirrorBuffer,
			MaxBatchWait: time.Duration(app.cfg.Registry.MirrorFlushMs) * time.Millisecond,
			Logger:       app.logger.Named("mirror"),
		}, sinks...)
		opts = append(opts, registry.WithSinks(app.mirror))
		app.logger.Info("task mirror enabled", zap.Int("sinks", len(sinks)))
	}
	return registry.New(taskid.New(), app.clock, opts...)
}

func setupNavigator(app *App) (*navigator.Navigator, error) {
	nav := app.cfg.Navigation
	var err error
	app.browsers, err = headless.NewFactory(headless.Config{
		Headless:          nav.Headless,
		UserAgent:         nav.UserAgent,
		ProxyURL:          nav.ProxyURL,
		NavigationTimeout: app.cfg.NavigationTimeout(),
		MaxParallel:       nav.MaxParallel,
	})
	if err != nil {
		return nil, fmt.Errorf("browser factory init failed: %w", err)
	}
	app.logger.Info("browser factory ready",
		zap.Bool("headless", nav.Headless),
		zap.Int("max_parallel", nav.MaxParallel),
		zap.Duration("nav_timeout", app.cfg.NavigationTimeout()),
	)

	limiter := ratelimit.New(ratelimit.Config{RPS: nav.MaxRPS, Burst: nav.Burst})
	app.logger.Info("navigation rate limiter enabled",
		zap.Float64("max_rps", nav.MaxRPS),
		zap.Int("burst", nav.Burst),
		zap.Duration("delay", app.cfg.NavigationDelay()),
	)
	return navigator.New(
		app.browsers,
		app.clock,
		limiter,
		navigator.NewChallengeDetector(nil, nil, nil),
		navigator.Config{
			BaseURL:      nav.BaseURL,
			Delay:        app.cfg.NavigationDelay(),
			MaxPages:     app.cfg.Discovery.MaxPages,
			CardSelector: app.cfg.Extractor.Selectors.Card,
		},
		app.logger,
	), nil
}
