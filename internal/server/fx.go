// Package server provides the core application server and dependency wiring.
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
	"go.uber.org/zap"

	"github.com/JakeFAU/rankyak-pipeline/internal/analytics"
	"github.com/JakeFAU/rankyak-pipeline/internal/api"
	"github.com/JakeFAU/rankyak-pipeline/internal/clock/system"
	"github.com/JakeFAU/rankyak-pipeline/internal/config"
	"github.com/JakeFAU/rankyak-pipeline/internal/content"
	"github.com/JakeFAU/rankyak-pipeline/internal/dispatcher"
	"github.com/JakeFAU/rankyak-pipeline/internal/generation"
	"github.com/JakeFAU/rankyak-pipeline/internal/hash/sha256"
	"github.com/JakeFAU/rankyak-pipeline/internal/id/uuid"
	"github.com/JakeFAU/rankyak-pipeline/internal/jobs"
	"github.com/JakeFAU/rankyak-pipeline/internal/logging"
	"github.com/JakeFAU/rankyak-pipeline/internal/metrics"
	"github.com/JakeFAU/rankyak-pipeline/internal/policy/ratelimit"
	"github.com/JakeFAU/rankyak-pipeline/internal/policy/simple"
	memorypublisher "github.com/JakeFAU/rankyak-pipeline/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/rankyak-pipeline/internal/publisher/pubsub"
	"github.com/JakeFAU/rankyak-pipeline/internal/publishing"
	"github.com/JakeFAU/rankyak-pipeline/internal/publishing/shopify"
	"github.com/JakeFAU/rankyak-pipeline/internal/publishing/webflow"
	"github.com/JakeFAU/rankyak-pipeline/internal/publishing/wordpress"
	"github.com/JakeFAU/rankyak-pipeline/internal/queue"
	queuememory "github.com/JakeFAU/rankyak-pipeline/internal/queue/memory"
	queuepostgres "github.com/JakeFAU/rankyak-pipeline/internal/queue/postgres"
	"github.com/JakeFAU/rankyak-pipeline/internal/scheduler"
	gcsstorage "github.com/JakeFAU/rankyak-pipeline/internal/storage/gcs"
	localstorage "github.com/JakeFAU/rankyak-pipeline/internal/storage/local"
	memorystorage "github.com/JakeFAU/rankyak-pipeline/internal/storage/memory"
	pgstore "github.com/JakeFAU/rankyak-pipeline/internal/storage/postgres"
	"github.com/JakeFAU/rankyak-pipeline/internal/telemetry"
	"github.com/JakeFAU/rankyak-pipeline/internal/worker"
)

// eventCloser is a content.Publisher with buffered state to flush.
type eventCloser interface {
	content.Publisher
	Close() error
}

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	clock          content.Clock
	ids            content.IDGenerator
	pool           *pgxpool.Pool
	store          content.Store
	queue          queue.Queue
	blobs          content.BlobStore
	events         eventCloser
	pubsubClient   *pubsub.Client
	gcsClient      *storage.Client
	hooks          *content.HookRunner
	content        *content.Service
	publishing     *publishing.Service
	scheduler      *scheduler.Scheduler
	dispatch       *dispatcher.Dispatcher
	apiServer      *api.Server
	tracerShutdown func(context.Context) error
}

// Build creates the application's dependencies. On error every resource that
// was already opened is released.
func Build(ctx context.Context, cfg config.Config) (_ *App, err error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	logger.Info("building application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.String("generation_provider", cfg.Generation.Provider),
	)

	app := &App{cfg: cfg, logger: logger, clock: system.New(), ids: uuid.New()}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
		}
	}()

	tp, err := telemetry.InitTracerProvider(ctx, logging.Service)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown
	metrics.Init()

	if err = app.setupDatabase(ctx); err != nil {
		return nil, err
	}
	if err = app.setupQueue(); err != nil {
		return nil, err
	}
	if err = app.setupStorage(ctx); err != nil {
		return nil, err
	}
	if err = app.setupEvents(ctx); err != nil {
		return nil, err
	}
	app.setupServices()
	if err = app.setupWorkers(); err != nil {
		return nil, err
	}
	app.setupAPI()
	return app, nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no database DSN configured, using in-memory store")
		a.store = memorystorage.NewStore()
		return nil
	}
	if a.cfg.DB.MigrateOnStart {
		if err := pgstore.Migrate(a.cfg.DB.DSN, 0, a.logger.Named("migrate")); err != nil {
			return fmt.Errorf("migrate on start: %w", err)
		}
	}
	pool, err := pgstore.NewPool(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: config.Seconds(a.cfg.DB.MaxConnLifetimeSeconds),
	})
	if err != nil {
		return fmt.Errorf("postgres pool init failed: %w", err)
	}
	a.pool = pool
	store, err := pgstore.NewStore(pool)
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	a.store = store
	a.logger.Info("postgres store initialized", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return nil
}

func (a *App) setupQueue() error {
	lease := config.Seconds(a.cfg.Queue.LeaseSeconds)
	poll := time.Duration(a.cfg.Queue.PollIntervalMs) * time.Millisecond
	switch a.cfg.Queue.Backend {
	case config.BackendPostgres:
		if a.pool == nil {
			return errors.New("postgres queue needs db.dsn")
		}
		q, err := queuepostgres.New(a.pool, a.ids, a.clock, queuepostgres.Config{Lease: lease, PollInterval: poll})
		if err != nil {
			return fmt.Errorf("postgres queue init failed: %w", err)
		}
		a.queue = q
	default:
		opts := []queuememory.Option{queuememory.WithClock(a.clock), queuememory.WithIDGenerator(a.ids)}
		if lease > 0 {
			opts = append(opts, queuememory.WithLease(lease))
		}
		if poll > 0 {
			opts = append(opts, queuememory.WithPollInterval(poll))
		}
		a.queue = queuememory.New(opts...)
	}
	a.logger.Info("queue initialized", zap.String("backend", a.cfg.Queue.Backend), zap.Duration("lease", lease))
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	switch {
	case a.cfg.Storage.LocalDir != "":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = blobs
		a.logger.Info("local draft archive", zap.String("path", a.cfg.Storage.LocalDir))
		return nil
	case a.cfg.Storage.GCSBucket == "":
		a.logger.Info("using in-memory draft archive")
		a.blobs = memorystorage.NewBlobStore()
		return nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("gcs client init failed: %w", err)
	}
	a.gcsClient = client
	blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.Prefix})
	if err != nil {
		return fmt.Errorf("gcs blob store init failed: %w", err)
	}
	a.blobs = blobs
	a.logger.Info("GCS draft archive", zap.String("bucket", a.cfg.Storage.GCSBucket))
	return nil
}

func (a *App) setupEvents(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		a.events = memorypublisher.New()
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.events = gcppublisher.New(client.Topic(a.cfg.PubSub.TopicName))
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupServices() {
	httpClient := publishing.DefaultHTTPClient()
	httpClient.Timeout = config.Seconds(a.cfg.Publishing.TimeoutSeconds)
	registry := publishing.NewRegistry(
		wordpress.New(httpClient),
		shopify.New(httpClient),
		webflow.New(httpClient),
	)

	apps := make(map[content.Platform]publishing.OAuthApp, len(a.cfg.Publishing.OAuth))
	for name, app := range a.cfg.Publishing.OAuth {
		apps[content.Platform(name)] = publishing.OAuthApp{
			ClientID:     app.ClientID,
			ClientSecret: app.ClientSecret,
			TokenURL:     app.TokenURL,
		}
	}
	refresher := publishing.NewRefresher(a.store, apps, a.clock, a.logger,
		publishing.WithRefreshHTTPClient(httpClient),
		publishing.WithRefreshLeeway(config.Seconds(a.cfg.Publishing.RefreshLeewaySeconds)),
	)
	var limiter publishing.Limiter = simple.New()
	if a.cfg.Publishing.RateLimitRPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.Publishing.RateLimitRPS,
			DefaultBurst: a.cfg.Publishing.RateLimitBurst,
		})
		a.logger.Info("publish rate limiter enabled",
			zap.Float64("default_rps", a.cfg.Publishing.RateLimitRPS),
			zap.Int("default_burst", a.cfg.Publishing.RateLimitBurst),
		)
	} else {
		a.logger.Info("publish rate limiter disabled, using simple policy")
	}
	a.publishing = publishing.NewService(a.store, registry, refresher, limiter, sha256.New(), a.clock, a.logger)

	a.hooks = content.NewHookRunner(config.Seconds(a.cfg.Publishing.HookTimeoutSeconds), a.logger)
	a.content = content.NewService(a.store, a.ids, a.clock, a.hooks, a.logger)
	a.hooks.Register(publishing.NewAutoPublisher(a.publishing, a.content))

	a.scheduler = scheduler.New(a.queue, a.store, a.clock, a.schedules(), a.logger)
}

func (a *App) schedules() []scheduler.Schedule {
	out := scheduler.DefaultSchedules()
	for i, s := range out {
		if pattern, ok := a.cfg.Schedules[s.Name]; ok && pattern != "" {
			out[i].Pattern = pattern
		}
	}
	return out
}

func (a *App) generator() generation.Generator {
	if a.cfg.Generation.Provider != config.ProviderOpenAI {
		a.logger.Info("using template article generator")
		return generation.Template{}
	}
	a.logger.Info("using OpenAI article generator", zap.String("model", a.cfg.Generation.Model))
	return generation.NewClient(generation.Config{
		APIKey:  a.cfg.Generation.APIKey,
		BaseURL: a.cfg.Generation.BaseURL,
		Model:   a.cfg.Generation.Model,
		Timeout: config.Seconds(a.cfg.Generation.TimeoutSeconds),
	})
}

func (a *App) setupWorkers() error {
	deps := jobs.Deps{
		Store:  a.store,
		IDs:    a.ids,
		Clock:  a.clock,
		Events: a.events,
		Blobs:  a.blobs,
		Logger: a.logger,
	}
	prober := analytics.New(analytics.Config{
		UserAgent: a.cfg.Analytics.UserAgent,
		Timeout:   config.Seconds(a.cfg.Analytics.TimeoutSeconds),
	})
	handlers := jobs.Handlers{
		Generation: jobs.NewGeneration(deps, a.generator()),
		Publishing: jobs.NewPublishing(deps, a.publishing, a.content),
		Analytics:  jobs.NewAnalytics(deps, prober),
		Sweeps:     jobs.NewSweep(a.scheduler, a.logger),
	}
	workerCfg := worker.Config{
		Timeout:      a.cfg.WorkerTimeout(),
		ErrorBackoff: config.Seconds(a.cfg.Worker.ErrorBackoffSeconds),
	}
	a.dispatch = dispatcher.New(a.queue, jobs.Pools(handlers, a.cfg.Queue.Concurrency), workerCfg, a.logger)
	if a.dispatch.Size() == 0 {
		return errors.New("no workers configured")
	}
	a.logger.Info("dispatcher configured", zap.Int("workers", a.dispatch.Size()))
	return nil
}

func (a *App) setupAPI() {
	ready := map[string]api.Check{}
	if a.pool != nil {
		ready["postgres"] = a.pool.Ping
	}
	a.apiServer = api.NewServer(api.Deps{
		Content: a.content,
		Keys:    a.publishing,
		Queue:   a.queue,
		Sweeper: a.scheduler,
		Ready:   ready,
		Logger:  a.logger,
	}, a.cfg)
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run installs the repeatable schedules, starts workers and the HTTP server,
// and blocks until the context is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.scheduler.Install(ctx); err != nil {
		return fmt.Errorf("install schedules: %w", err)
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

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

	timeout := config.Seconds(a.cfg.Server.ShutdownTimeoutSeconds)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not drain before shutdown deadline")
	}
	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.hooks != nil {
		a.hooks.Wait()
	}
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.logger.Warn("queue close failed", zap.Error(err))
		}
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.logger.Warn("event publisher close failed", zap.Error(err))
		}
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
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
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}
