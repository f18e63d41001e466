// Package server assembles the capture service and owns its lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dealbridge/dealroom-capture/internal/api"
	"github.com/dealbridge/dealroom-capture/internal/assist"
	"github.com/dealbridge/dealroom-capture/internal/browser"
	"github.com/dealbridge/dealroom-capture/internal/clock/system"
	"github.com/dealbridge/dealroom-capture/internal/config"
	"github.com/dealbridge/dealroom-capture/internal/database"
	"github.com/dealbridge/dealroom-capture/internal/dispatcher"
	"github.com/dealbridge/dealroom-capture/internal/engine"
	"github.com/dealbridge/dealroom-capture/internal/engine/advance"
	"github.com/dealbridge/dealroom-capture/internal/engine/download"
	"github.com/dealbridge/dealroom-capture/internal/engine/fallback"
	"github.com/dealbridge/dealroom-capture/internal/hash/sha256"
	"github.com/dealbridge/dealroom-capture/internal/id/uuid"
	"github.com/dealbridge/dealroom-capture/internal/logging"
	"github.com/dealbridge/dealroom-capture/internal/metrics"
	"github.com/dealbridge/dealroom-capture/internal/platform"
	"github.com/dealbridge/dealroom-capture/internal/policy/ratelimit"
	"github.com/dealbridge/dealroom-capture/internal/policy/retry"
	"github.com/dealbridge/dealroom-capture/internal/probe"
	"github.com/dealbridge/dealroom-capture/internal/progress"
	progresssinks "github.com/dealbridge/dealroom-capture/internal/progress/sinks"
	memorypublisher "github.com/dealbridge/dealroom-capture/internal/publisher/memory"
	gcppublisher "github.com/dealbridge/dealroom-capture/internal/publisher/pubsub"
	queueMemory "github.com/dealbridge/dealroom-capture/internal/queue/memory"
	queuePubsub "github.com/dealbridge/dealroom-capture/internal/queue/pubsub"
	"github.com/dealbridge/dealroom-capture/internal/storage"
	storageMemory "github.com/dealbridge/dealroom-capture/internal/storage/memory"
	"github.com/dealbridge/dealroom-capture/internal/telemetry"
	"github.com/dealbridge/dealroom-capture/internal/worker"
)

// jobQueue is what the app needs from its queue: the engine operations plus
// shutdown. Both the in-memory and Pub/Sub queues satisfy it.
type jobQueue interface {
	engine.Queue
	Close()
}

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	dispatch        *dispatcher.Dispatcher
	progressHub     *progress.Hub
	queue           jobQueue
	browsers        *browser.Manager
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	dbStore         *database.JobStore
	tracerShutdown  func(context.Context) error
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	// Log only non-sensitive config fields.
	type SanitizedConfig struct {
		ServerPort  int    `json:"server_port"`
		Concurrency int    `json:"concurrency"`
		Storage     string `json:"storage_backend"`
	}
	safeCfg := SanitizedConfig{
		ServerPort:  cfg.Server.Port,
		Concurrency: cfg.Capture.Concurrency,
		Storage:     cfg.Storage.Backend,
	}
	logger.Info("Creating application", zap.Any("config", safeCfg))
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.queue.Close()
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
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
	if a.dbStore != nil {
		a.dbStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Application.ServiceName, cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}

	tp, err := telemetry.InitTracerProvider(ctx, cfg.Application.ServiceName, cfg.Application.Version)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown
	metrics.Init()

	app.logger.Info("building application dependencies")
	jobStore, err := setupJobStore(ctx, app)
	if err != nil {
		return nil, err
	}

	blobStore, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("blob store init failed: %w", err)
	}
	app.logger.Info("blob store initialized", zap.String("backend", cfg.Storage.Backend))

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	hub, err := setupProgress(ctx, app)
	if err != nil {
		return nil, err
	}

	registry := platform.NewRegistry(cfg.Platforms, cfg.Capture.DenyHosts)

	app.browsers, err = browser.NewManager(browser.Config{
		Headless:          cfg.Browser.Headless,
		MaxParallel:       cfg.Browser.MaxParallel,
		UserAgent:         cfg.Browser.UserAgent,
		NavigationTimeout: time.Duration(cfg.Browser.NavTimeoutSec) * time.Second,
		DownloadRoot:      cfg.Browser.DownloadDir,
		ExecPath:          cfg.Browser.ExecPath,
		WindowWidth:       cfg.Browser.WindowWidth,
		WindowHeight:      cfg.Browser.WindowHeight,
		DisableSandbox:    cfg.Browser.DisableSandbox,
	}, logger.Named("browser"))
	if err != nil {
		return nil, fmt.Errorf("browser manager init failed: %w", err)
	}

	app.queue, err = setupQueue(ctx, app)
	if err != nil {
		return nil, err
	}
	app.dispatch, err = setupDispatcher(app, jobStore, blobStore, publisher, registry, hub)
	if err != nil {
		return nil, err
	}

	app.apiServer = api.NewServer(
		jobStore,
		app.queue,
		registry,
		uuid.New(),
		system.New(),
		*cfg,
		logger.Named("api"),
	)

	return app, nil
}

func setupJobStore(ctx context.Context, app *App) (engine.JobStore, error) {
	if app.cfg.DB.DSN == "" {
		app.logger.Info("no db.dsn configured, using in-memory job store")
		return storageMemory.NewJobStore(), nil
	}
	store, err := database.New(ctx, database.Config{
		DSN:      app.cfg.DB.DSN,
		MaxConns: int32(app.cfg.DB.MaxConns),
	})
	if err != nil {
		return nil, fmt.Errorf("job store init failed: %w", err)
	}
	app.dbStore = store
	app.logger.Info("postgres job store initialized")
	return store, nil
}

func setupPublisher(ctx context.Context, app *App) (engine.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
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

func setupQueue(ctx context.Context, app *App) (jobQueue, error) {
	ps := app.cfg.PubSub
	if ps.ProjectID == "" || ps.QueueTopic == "" || ps.QueueSubscription == "" {
		app.logger.Info("using in-memory job queue", zap.Int("depth", app.cfg.Capture.QueueDepth))
		return queueMemory.NewQueue(app.cfg.Capture.QueueDepth), nil
	}
	if app.pubsubClient == nil {
		var err error
		app.pubsubClient, err = pubsub.NewClient(ctx, ps.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
	}
	q, err := queuePubsub.New(app.pubsubClient, ps.QueueTopic, ps.QueueSubscription, app.logger.Named("queue"))
	if err != nil {
		return nil, fmt.Errorf("pubsub queue init failed: %w", err)
	}
	app.logger.Info(
		"Pub/Sub job queue initialized",
		zap.String("topic", ps.QueueTopic),
		zap.String("subscription", ps.QueueSubscription),
	)
	return q, nil
}

func setupProgress(ctx context.Context, app *App) (*progress.Hub, error) {
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("prometheus progress sink init failed: %w", err)
	}
	hubCfg := progress.Config{
		BaseContext: ctx,
		Logger:      app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg,
		progresssinks.NewLogSink(app.logger.Named("progress_log")),
		promSink,
	)
	app.logger.Info("progress hub initialized")
	return app.progressHub, nil
}

// sessionOpener adapts the browser manager to the worker's Opener.
type sessionOpener struct {
	manager *browser.Manager
}

func (o *sessionOpener) Open(ctx context.Context, jobID, portalURL string) (worker.Session, error) {
	page, err := o.manager.Open(ctx, jobID, portalURL)
	if err != nil {
		return nil, err
	}
	return page, nil
}

func setupAssist(app *App) (engine.AssistAdapter, error) {
	if !app.cfg.Fallback.Enabled {
		return nil, nil
	}
	adapter, err := assist.New(assist.Config{
		APIKey:    os.Getenv("ANTHROPIC_API_KEY"),
		Model:     app.cfg.Fallback.Model,
		MaxTokens: app.cfg.Fallback.MaxTokensPerStep,
	}, app.logger.Named("assist"))
	if err != nil {
		return nil, fmt.Errorf("assist adapter init failed: %w", err)
	}
	app.logger.Info("assist adapter initialized", zap.String("model", app.cfg.Fallback.Model))
	return adapter, nil
}

func setupDispatcher(
	app *App,
	jobStore engine.JobStore,
	blobStore engine.BlobStore,
	publisher engine.Publisher,
	registry *platform.Registry,
	hub *progress.Hub,
) (*dispatcher.Dispatcher, error) {
	cfg := app.cfg
	hasher := sha256.New()
	clock := system.New()

	var prober *probe.Prober
	if cfg.Probe.Enabled {
		prober = probe.New(probe.Config{
			UserAgent:      cfg.Probe.UserAgent,
			RequestTimeout: time.Duration(cfg.Probe.TimeoutSeconds) * time.Second,
		}, app.logger.Named("probe"))
		app.logger.Info("portal probe enabled")
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Capture.PerHostRate,
		DefaultBurst: cfg.Capture.PerHostBurst,
	})
	app.logger.Info("per-host rate limiter configured",
		zap.Float64("rps", cfg.Capture.PerHostRate),
		zap.Int("burst", cfg.Capture.PerHostBurst),
	)

	adapter, err := setupAssist(app)
	if err != nil {
		return nil, err
	}

	extraHosts := make(map[string]struct{}, len(cfg.Fallback.EnabledHosts))
	for _, h := range cfg.Fallback.EnabledHosts {
		extraHosts[platform.NormalizeHost(h)] = struct{}{}
	}
	fallbackCfg := fallback.Config{
		Disabled: !cfg.Fallback.Enabled,
		HostEnabled: func(host string) bool {
			if registry.FallbackEnabled(host) {
				return true
			}
			_, ok := extraHosts[platform.NormalizeHost(host)]
			return ok
		},
		AssistTimeout:     time.Duration(cfg.Fallback.AssistTimeoutSec) * time.Second,
		InstructionPrefix: cfg.Fallback.InstructionPrefix,
	}

	stager := download.NewStager(cfg.Download.StagingDir, hasher, clock, app.logger.Named("stager"))

	topic := cfg.PubSub.TopicName
	if topic == "" {
		topic = "capture.completed"
	}
	workerCfg := worker.Config{
		Topic:            topic,
		BlobPrefix:       cfg.Storage.Prefix,
		ContentType:      cfg.Storage.ContentType,
		ArtifactsRoot:    cfg.Fallback.ArtifactsDir,
		MaxFormSteps:     cfg.Capture.MaxFormSteps,
		FallbackMaxSteps: cfg.Fallback.MaxSteps,
		JobTimeout:       cfg.JobTimeout(),
	}
	app.logger.Info("worker config",
		zap.String("blob_prefix", workerCfg.BlobPrefix),
		zap.String("topic", workerCfg.Topic),
		zap.Duration("job_timeout", workerCfg.JobTimeout),
		zap.Int("max_form_steps", workerCfg.MaxFormSteps),
	)

	deps := worker.Deps{
		Queue:     app.queue,
		JobStore:  jobStore,
		BlobStore: blobStore,
		Publisher: publisher,
		Clock:     clock,
		Opener:    &sessionOpener{manager: app.browsers},
		Prober:    prober,
		Limiter:   limiter,
		Registry:  registry,
		Assist:    adapter,
		Stager:    stager,
		Retry:     retry.New(cfg.Capture.RetryAttempts + 1),
		Hub:       hub,
		Bucket:    worker.BucketFromProfile(cfg.Profile),

		FallbackCfg: fallbackCfg,
		AdvanceCfg:  advance.Config{SettleWait: cfg.SettleWait()},
		DownloadCfg: download.Config{
			AppearTimeout: time.Duration(cfg.Download.AppearTimeoutSec) * time.Second,
			StableTimeout: time.Duration(cfg.Download.StableTimeoutSec) * time.Second,
			PollInterval:  time.Duration(cfg.Download.PollIntervalMs) * time.Millisecond,
			StablePolls:   cfg.Download.StablePolls,
		},
	}

	var workers []*worker.Worker
	for i := 0; i < cfg.Capture.Concurrency; i++ {
		workers = append(workers, worker.New(
			deps,
			workerCfg,
			app.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(app.queue, workers), nil
}
