// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/canvaspal/internal/api"
	"github.com/JakeFAU/canvaspal/internal/assignment"
	"github.com/JakeFAU/canvaspal/internal/canvas"
	"github.com/JakeFAU/canvaspal/internal/clock/system"
	"github.com/JakeFAU/canvaspal/internal/config"
	"github.com/JakeFAU/canvaspal/internal/dashboard"
	"github.com/JakeFAU/canvaspal/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/canvaspal/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/canvaspal/internal/fetcher/headless"
	"github.com/JakeFAU/canvaspal/internal/hash/sha256"
	"github.com/JakeFAU/canvaspal/internal/headless/detector"
	"github.com/JakeFAU/canvaspal/internal/id/uuid"
	"github.com/JakeFAU/canvaspal/internal/metrics"
	"github.com/JakeFAU/canvaspal/internal/pipeline"
	"github.com/JakeFAU/canvaspal/internal/policy/ratelimit"
	"github.com/JakeFAU/canvaspal/internal/policy/simple"
	"github.com/JakeFAU/canvaspal/internal/priority"
	memorypublisher "github.com/JakeFAU/canvaspal/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/canvaspal/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/canvaspal/internal/queue/memory"
	"github.com/JakeFAU/canvaspal/internal/render"
	"github.com/JakeFAU/canvaspal/internal/scheduler"
	"github.com/JakeFAU/canvaspal/internal/snapshot"
	gcsstorage "github.com/JakeFAU/canvaspal/internal/storage/gcs"
	localstorage "github.com/JakeFAU/canvaspal/internal/storage/local"
	memoryStorage "github.com/JakeFAU/canvaspal/internal/storage/memory"
	pgstore "github.com/JakeFAU/canvaspal/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/canvaspal/internal/storage/sqlite"
	"github.com/JakeFAU/canvaspal/internal/telemetry"
	"github.com/JakeFAU/canvaspal/internal/worker"
)

type closablePublisher interface {
	assignment.Publisher
	Close() error
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	loc    *time.Location
	clock  *system.Clock

	blobs       assignment.BlobStore
	storage     *storage.Client
	completions assignment.CompletionStore
	publisher   closablePublisher
	headless    *headlessfetcher.Fetcher
	tracer      *sdktrace.TracerProvider

	pipeline  *pipeline.Pipeline
	snapshots *snapshot.Service

	queue     *queueMemory.Queue
	dispatch  *dispatcher.Dispatcher
	scheduler *scheduler.Scheduler
	apiServer *api.Server
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	type sanitizedConfig struct {
		ServerPort int      `json:"server_port"`
		CanvasHost string   `json:"canvas_host"`
		Sources    []string `json:"sources"`
		Storage    string   `json:"storage"`
		Completion string   `json:"completion"`
		Schedule   string   `json:"schedule"`
	}
	safe := sanitizedConfig{
		ServerPort: cfg.Server.Port,
		CanvasHost: metrics.SanitizeSite(cfg.Canvas.BaseURL),
		Storage:    cfg.Storage.Backend,
		Completion: cfg.Completion.Backend,
		Schedule:   cfg.Schedule.Spec,
	}
	for _, s := range cfg.EnabledSources() {
		safe.Sources = append(safe.Sources, string(s))
	}
	logger.Info("creating application", zap.Any("config", safe))
	return &App{
		cfg:    cfg,
		logger: logger,
		loc:    loc,
		clock:  system.New(loc),
	}, nil
}

// Pipeline exposes the refresh pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Snapshots exposes the snapshot service.
func (a *App) Snapshots() *snapshot.Service { return a.snapshots }

// Clock exposes the configured clock.
func (a *App) Clock() assignment.Clock { return a.clock }

// Location returns the configured Canvas timezone.
func (a *App) Location() *time.Location { return a.loc }

// Refresh runs the pipeline once outside the queue, stores the result and
// persists it. It backs the scrape command.
func (a *App) Refresh(ctx context.Context) (assignment.Snapshot, error) {
	start := time.Now()
	snap, err := a.pipeline.Run(ctx)
	if err != nil {
		metrics.ObserveRefresh(string(assignment.ReasonCLI), worker.StatusFailed, time.Since(start))
		return assignment.Snapshot{}, err
	}
	snap, _ = a.snapshots.Swap(ctx, snap)
	if _, err := a.snapshots.Persist(ctx, snap); err != nil {
		a.logger.Warn("snapshot persist failed", zap.Error(err))
	}
	status := worker.StatusSucceeded
	if len(snap.SourceErrors) > 0 {
		status = worker.StatusPartial
	}
	metrics.ObserveRefresh(string(assignment.ReasonCLI), status, time.Since(start))
	return snap, nil
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	if a.apiServer == nil || a.dispatch == nil {
		return errors.New("app was built without the http server")
	}
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if ok, err := a.snapshots.LoadLatest(ctx); err != nil {
		a.logger.Warn("previous snapshot unavailable", zap.Error(err))
	} else if ok {
		a.logger.Info("serving previous snapshot until the first refresh completes")
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Schedule.Workers))
		a.dispatch.Run(ctx)
	}()

	if a.scheduler != nil {
		a.scheduler.Start()
	}
	if a.cfg.Schedule.RefreshOnStart {
		if _, _, err := a.dispatch.Trigger(assignment.ReasonStartup); err != nil {
			a.logger.Warn("startup refresh not queued", zap.Error(err))
		}
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

	grace := time.Duration(a.cfg.Server.ShutdownGraceSeconds) * time.Second
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if a.scheduler != nil {
		select {
		case <-a.scheduler.Stop().Done():
		case <-shutdownCtx.Done():
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not drain before the shutdown deadline")
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application. It is safe on a partially
// built App.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure()
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil && !isStdSyncErr(err) {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	if a.completions != nil {
		if err := a.completions.Close(); err != nil {
			a.logger.Warn("completion store close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
}

// Syncing stdout/stderr fails on terminals and pipes.
func isStdSyncErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid argument") || strings.Contains(msg, "inappropriate ioctl")
}

// BuildCore creates the stores, the scraping stack, the pipeline and the
// snapshot service. Commands that do not serve HTTP stop here.
func BuildCore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	metrics.Init()

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	app.logger.Info("building application dependencies")

	if cfg.Telemetry.Enabled {
		app.tracer, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		app.logger.Info("tracing enabled", zap.Float64("sample_ratio", cfg.Telemetry.SampleRatio))
	}

	if err := setupCore(ctx, app); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	return app, nil
}

// Build creates the application's dependencies, including the refresh
// workers, the scheduler and the HTTP API.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	app, err := BuildCore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := setupServing(ctx, app); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	return app, nil
}

func setupCore(ctx context.Context, app *App) error {
	var err error
	if app.blobs, err = setupStorage(ctx, app); err != nil {
		return err
	}
	if app.completions, err = setupCompletions(ctx, app); err != nil {
		return err
	}
	collectors, err := setupCollectors(app)
	if err != nil {
		return err
	}

	scorer, err := priority.NewScorer(priority.Config{
		Weights: priority.Weights{
			Time:   app.cfg.Scoring.TimeWeight,
			Points: app.cfg.Scoring.PointsWeight,
			Course: app.cfg.Scoring.CourseWeight,
		},
		PointsScale:         app.cfg.Scoring.PointsScale,
		DefaultCourseWeight: app.cfg.Scoring.DefaultCourseWeight,
		CourseWeights:       app.cfg.Scoring.CourseWeights,
		Location:            app.loc,
	})
	if err != nil {
		return fmt.Errorf("scorer init failed: %w", err)
	}

	app.pipeline, err = pipeline.New(pipeline.Options{
		Collectors:  collectors,
		Completions: app.completions,
		Scorer:      scorer,
		Clock:       app.clock,
		IDs:         uuid.NewUUIDGenerator(),
		Hasher:      sha256.New(),
		Logger:      app.logger.Named("pipeline"),
	})
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}

	base, err := url.Parse(app.cfg.Canvas.BaseURL)
	if err != nil {
		return fmt.Errorf("parse canvas base url: %w", err)
	}
	app.snapshots, err = snapshot.New(snapshot.Options{
		BaseURL:     base,
		Blobs:       app.blobs,
		Prefix:      app.cfg.Storage.Prefix,
		Completions: app.completions,
		Scorer:      app.pipeline,
		Clock:       app.clock,
		Logger:      app.logger.Named("snapshot"),
	})
	if err != nil {
		return fmt.Errorf("snapshot service init failed: %w", err)
	}
	return nil
}

func setupServing(ctx context.Context, app *App) error {
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return err
	}
	app.publisher = publisher

	app.queue = queueMemory.NewQueue(app.cfg.Schedule.QueueDepth)
	workerCfg := worker.Config{
		Topic:   worker.DefaultTopic,
		Timeout: refreshBudget(app.cfg),
	}
	app.logger.Info("worker config",
		zap.String("topic", workerCfg.Topic),
		zap.Duration("refresh_timeout", workerCfg.Timeout),
		zap.Int("queue_depth", app.cfg.Schedule.QueueDepth),
	)
	workers := make([]*worker.Worker, 0, app.cfg.Schedule.Workers)
	for i := 0; i < app.cfg.Schedule.Workers; i++ {
		workers = append(workers, worker.New(
			app.queue,
			app.pipeline,
			app.snapshots,
			app.publisher,
			workerCfg,
			app.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	app.dispatch = dispatcher.New(app.queue, workers, uuid.NewUUIDGenerator(), app.clock)

	if app.cfg.Schedule.Enabled {
		app.scheduler, err = scheduler.New(app.cfg.Schedule.Spec, app.loc, app.dispatch, app.logger.Named("scheduler"))
		if err != nil {
			return fmt.Errorf("scheduler init failed: %w", err)
		}
		app.logger.Info("refresh schedule enabled", zap.String("spec", app.cfg.Schedule.Spec))
	} else {
		app.logger.Info("refresh schedule disabled")
	}

	app.apiServer = api.NewServer(api.Options{
		Snapshots: app.snapshots,
		Refresher: app.dispatch,
		Clock:     app.clock,
		Location:  app.loc,
		Feed: render.FeedOptions{
			Title:       app.cfg.Feed.Title,
			Link:        app.cfg.Canvas.BaseURL,
			Description: app.cfg.Feed.Description,
			Author:      app.cfg.Feed.Author,
			Location:    app.loc,
		},
		AuthEnabled:    app.cfg.Auth.Enabled,
		APIKey:         app.cfg.Auth.APIKey,
		RequestTimeout: time.Duration(app.cfg.Server.RequestTimeoutSeconds) * time.Second,
		Logger:         app.logger.Named("api"),
	})
	return nil
}

// refreshBudget bounds one refresh: every source may page up to max_pages,
// each request retrying up to max_retries times.
func refreshBudget(cfg config.Config) time.Duration {
	attempts := cfg.HTTP.MaxRetries + 1
	budget := time.Duration(cfg.Canvas.MaxPages*attempts) * cfg.RequestTimeout()
	if cfg.Headless.Enabled {
		budget += time.Duration(cfg.Headless.NavTimeoutSec) * time.Second
	}
	if budget < time.Minute {
		budget = time.Minute
	}
	return budget
}

func setupStorage(ctx context.Context, app *App) (assignment.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend")
		client, err := gcsstorage.Open(ctx, app.cfg.Storage.GCSBucket, app.logger.Named("gcs"))
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", app.cfg.Storage.GCSBucket))
		return blobStore, nil
	case "local":
		app.logger.Info("using local storage backend")
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", app.cfg.Storage.LocalDir))
		return blobStore, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func setupCompletions(ctx context.Context, app *App) (assignment.CompletionStore, error) {
	switch app.cfg.Completion.Backend {
	case "sqlite":
		store, err := sqlitestore.New(ctx, app.cfg.Completion.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite completion store init failed: %w", err)
		}
		app.logger.Info("using sqlite completion store", zap.String("path", app.cfg.Completion.SQLitePath))
		return store, nil
	case "postgres":
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:             app.cfg.DB.DSN,
			Table:           app.cfg.DB.Table,
			MaxConns:        app.cfg.DB.MaxConns,
			MinConns:        app.cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(app.cfg.DB.MaxConnLifetime) * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres completion store init failed: %w", err)
		}
		app.logger.Info("using postgres completion store", zap.String("table", app.cfg.DB.Table))
		return store, nil
	default:
		app.logger.Warn("using in-memory completion store; completed flags are lost on restart")
		return memoryStorage.NewCompletionStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (closablePublisher, error) {
	if !app.cfg.PubSub.Enabled {
		app.logger.Info("Pub/Sub disabled, using in-memory publisher")
		return memorypublisher.NewWithLogger(memorypublisher.DefaultRetain, app.logger.Named("publisher")), nil
	}
	publisher, err := gcppublisher.Open(ctx, app.cfg.PubSub.ProjectID, app.cfg.PubSub.TopicName, app.logger.Named("pubsub"))
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return publisher, nil
}

func setupLimiter(app *App) assignment.Limiter {
	if app.cfg.RateLimit.Enabled {
		app.logger.Info("rate limiter enabled",
			zap.Float64("requests_per_second", app.cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", app.cfg.RateLimit.Burst),
		)
		return ratelimit.New(ratelimit.Config{
			DefaultRPS:   app.cfg.RateLimit.RequestsPerSecond,
			DefaultBurst: app.cfg.RateLimit.Burst,
		})
	}
	app.logger.Info("rate limiter disabled, using simple policy")
	return simple.New()
}

func setupHeadless(app *App) assignment.Fetcher {
	if !app.cfg.Headless.Enabled {
		return nil
	}
	fetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       app.cfg.Headless.MaxParallel,
		UserAgent:         app.cfg.HTTP.UserAgent,
		NavigationTimeout: time.Duration(app.cfg.Headless.NavTimeoutSec) * time.Second,
		RenderWait:        time.Duration(app.cfg.Headless.RenderWaitMs) * time.Millisecond,
		ReadySelector:     headlessfetcher.DefaultReadySelector,
	})
	if err != nil {
		app.logger.Warn("headless fetcher init failed; dashboard scraping stays static", zap.Error(err))
		return nil
	}
	app.headless = fetcher
	app.logger.Info("using headless fetcher", zap.Int("max_parallel", app.cfg.Headless.MaxParallel))
	return fetcher
}

func setupCollectors(app *App) ([]assignment.Collector, error) {
	tokens, err := canvas.LoadTokens(app.cfg.Canvas.Tokens, app.cfg.Canvas.TokenDir)
	if err != nil {
		return nil, fmt.Errorf("canvas tokens: %w", err)
	}
	if tokens.Len() == 0 && app.cfg.Canvas.SessionCookie == "" {
		app.logger.Warn("no canvas tokens or session cookie configured; requests will be anonymous")
	}

	limiter := setupLimiter(app)
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent: app.cfg.HTTP.UserAgent,
		Timeout:   app.cfg.RequestTimeout(),
	})
	app.logger.Info("using colly fetcher", zap.String("user_agent", app.cfg.HTTP.UserAgent))

	client, err := canvas.NewClient(
		canvas.Config{
			BaseURL:       app.cfg.Canvas.BaseURL,
			Tokens:        tokens,
			SessionCookie: app.cfg.Canvas.SessionCookie,
			PerPage:       app.cfg.Canvas.PerPage,
			MaxPages:      app.cfg.Canvas.MaxPages,
			Location:      app.loc,
		},
		probe,
		limiter,
		canvas.NewRetryPolicy(
			app.cfg.HTTP.MaxRetries,
			time.Duration(app.cfg.HTTP.BackoffInitialMs)*time.Millisecond,
			time.Duration(app.cfg.HTTP.BackoffMaxMs)*time.Millisecond,
		),
		app.logger.Named("canvas"),
	)
	if err != nil {
		return nil, fmt.Errorf("canvas client init failed: %w", err)
	}

	sources := app.cfg.EnabledSources()
	collectors := canvas.Collectors(client, sources)
	for _, s := range sources {
		if s != assignment.SourceDashboardDOM {
			continue
		}
		page := client.BaseURL().JoinPath(app.cfg.Canvas.DashboardPath)
		dom, err := dashboard.NewCollector(dashboard.Options{
			PageURL:  page.String(),
			Fetcher:  probe,
			Headless: setupHeadless(app),
			Detector: detector.NewHeuristic(app.cfg.Headless.PromotionThresh),
			Limiter:  limiter,
			Headers:  client,
			Clock:    app.clock,
			Location: app.loc,
			Logger:   app.logger.Named("dashboard"),
		})
		if err != nil {
			return nil, fmt.Errorf("dashboard collector init failed: %w", err)
		}
		collectors = append(collectors, dom)
	}
	app.logger.Info("collectors ready", zap.Int("count", len(collectors)))
	return collectors, nil
}
