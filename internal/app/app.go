package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LeeSinLiang/Janus-sub000/internal/api"
	"github.com/LeeSinLiang/Janus-sub000/internal/config"
	"github.com/LeeSinLiang/Janus-sub000/internal/db"
	"github.com/LeeSinLiang/Janus-sub000/internal/llm"
	"github.com/LeeSinLiang/Janus-sub000/internal/metrics"
	"github.com/LeeSinLiang/Janus-sub000/internal/notify"
	"github.com/LeeSinLiang/Janus-sub000/internal/platform"
	"github.com/LeeSinLiang/Janus-sub000/internal/poller"
	"github.com/LeeSinLiang/Janus-sub000/internal/publish"
	"github.com/LeeSinLiang/Janus-sub000/internal/regen"
	"github.com/LeeSinLiang/Janus-sub000/internal/repository"
	"github.com/LeeSinLiang/Janus-sub000/internal/retry"
	"github.com/LeeSinLiang/Janus-sub000/internal/strategy"
	"github.com/LeeSinLiang/Janus-sub000/internal/tasks"
	"github.com/LeeSinLiang/Janus-sub000/internal/trigger"
)

const cleanupInterval = time.Hour

// App is the main application
type App struct {
	config  *config.Config
	logger  *slog.Logger
	version string

	db       *db.DB
	store    *repository.Store
	taskDB   *tasks.BoltStorage
	notifier notify.Notifier

	processor  *tasks.Processor
	cleaner    *tasks.Cleaner
	triggers   *trigger.Service
	strategies *strategy.Coordinator
	publisher  *publish.Pipeline
	poller     *poller.Poller

	apiServer     *api.Server
	metricsServer *metrics.Server
	sampler       *metrics.Sampler
}

// New creates a new application. Nothing is started until Run.
func New(cfg *config.Config, version string) (*App, error) {
	logger := setupLogger(cfg.Logging)

	database, err := db.New(cfg.Database.Path, cfg.Database.BusyTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	taskDB, err := tasks.NewBoltStorage(cfg.Queue.Path, cfg.Queue.MaxPending)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to create task storage: %w", err)
	}

	a := &App{
		config:  cfg,
		logger:  logger,
		version: version,
		db:      database,
		store:   repository.NewStore(database.DB),
		taskDB:  taskDB,
	}

	exec := retry.New(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay)

	var gen llm.Generator
	if cfg.UseMockLLM() {
		gen = llm.NewMock()
		logger.Warn("llm endpoint not configured, using mock generator")
	} else {
		gen = llm.NewChatClient(cfg.LLM.Endpoint, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout)
		logger.Info("llm generator configured", "endpoint", cfg.LLM.Endpoint, "model", cfg.LLM.Model)
	}

	a.notifier = notify.Nop{}
	if cfg.Notify.Enabled {
		mailer := notify.NewMailer(notify.Config{
			Addr:     cfg.Notify.SMTPAddr,
			Username: cfg.Notify.Username,
			Password: cfg.Notify.Password,
			From:     cfg.Notify.From,
			To:       cfg.Notify.To,
		}, logger)
		a.notifier = notify.NewAsync(mailer, 30*time.Second, logger)
		logger.Info("operator notifications enabled", "relay", cfg.Notify.SMTPAddr, "recipients", len(cfg.Notify.To))
	}

	mux := tasks.NewMux()
	a.processor = tasks.NewProcessor(taskDB, mux, tasks.ProcessorConfig{
		Workers:         cfg.Queue.Workers,
		RetryInterval:   cfg.Queue.RetryInterval,
		MaxRetries:      cfg.Queue.MaxRetries,
		ProcessInterval: cfg.Queue.ProcessInterval,
		TaskTimeout:     cfg.Regen.LeaseTTL,
	}, logger)
	a.cleaner = tasks.NewCleaner(taskDB, cfg.Queue.Retention, cleanupInterval, logger)

	worker := regen.NewWorker(a.store, exec, gen, a.notifier, regen.Config{GenerationTimeout: cfg.LLM.Timeout}, logger)
	worker.Register(mux)

	a.triggers = trigger.NewService(a.store, exec, a.processor, logger)
	a.strategies = strategy.NewCoordinator(a.store, exec, gen, a.processor, a.notifier,
		strategy.Config{GenerationTimeout: cfg.LLM.Timeout}, logger)

	platformClient := platform.NewClient(cfg.Platform.BaseURL, cfg.Platform.APIKey, cfg.Platform.Timeout)
	a.publisher = publish.NewPipeline(a.store, exec, platformClient, logger)
	a.poller = poller.New(a.store, exec, platformClient, a.triggers, poller.Config{
		Interval: cfg.Poller.Interval,
		LeaseTTL: cfg.Regen.LeaseTTL,
		Tasks:    taskDB,
	}, logger)

	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)
		a.metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, database.PingContext, logger)
		a.sampler = metrics.NewSampler(m, taskDB, cfg.Metrics.SampleInterval, logger)
	}

	a.apiServer = api.NewServer(&cfg.Server, api.Deps{
		Store:      a.store,
		Strategies: a.strategies,
		Publisher:  a.publisher,
		Triggers:   a.triggers,
		Metrics:    a.poller,
		Tasks:      taskDB,
	}, version, logger)

	return a, nil
}

// Logger returns the application logger
func (a *App) Logger() *slog.Logger { return a.logger }

// Store returns the persistent store
func (a *App) Store() *repository.Store { return a.store }

// Triggers returns the trigger service
func (a *App) Triggers() *trigger.Service { return a.triggers }

// Strategies returns the strategy coordinator
func (a *App) Strategies() *strategy.Coordinator { return a.strategies }

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	logAttrs := []any{
		"version", a.version,
		"api_addr", a.config.Server.ListenAddr,
		"database", a.config.Database.Path,
		"poller", a.config.Poller.Enabled,
	}
	if a.metricsServer != nil {
		logAttrs = append(logAttrs, "metrics_addr", a.config.Metrics.ListenAddr)
	}
	a.logger.Info("starting janus", logAttrs...)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	requeued, err := a.taskDB.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}
	if requeued > 0 {
		a.logger.Info("requeued interrupted tasks", "count", requeued)
	}

	a.processor.Start(ctx)
	a.cleaner.Start(ctx)
	if a.config.Poller.Enabled {
		a.poller.Start(ctx)
	}
	if a.sampler != nil {
		a.sampler.Start(ctx)
	}

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop accepting requests before the workers go away
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.config.Poller.Enabled {
		a.poller.Stop()
	}
	a.processor.Stop()
	a.cleaner.Stop()

	if a.sampler != nil {
		a.sampler.Stop()
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	a.Close()
	a.logger.Info("shutdown complete")
	return nil
}

// Close releases the databases without touching running components. It is
// used directly by one-shot commands that never call Run.
func (a *App) Close() {
	if err := a.taskDB.Close(); err != nil {
		a.logger.Error("task storage close error", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
