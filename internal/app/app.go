package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"adpilot/internal/api"
	"adpilot/internal/campaign"
	"adpilot/internal/config"
	"adpilot/internal/metrics"
	"adpilot/internal/scheduler"
	"adpilot/internal/store"
	"adpilot/internal/upstream"
)

// App is the main application
type App struct {
	config        *config.Config
	store         store.Store
	orchestrator  *campaign.Orchestrator
	scheduler     *scheduler.Scheduler
	apiServer     *api.Server
	metricsServer *metrics.Server
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	recordStore, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	var m *metrics.Metrics
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path,
			logger.With("component", "metrics"))
	}

	retry := upstream.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Upstream.RetryAttempts

	client := upstream.NewHTTPClient(upstream.ClientOptions{
		BaseURL:       cfg.UpstreamBaseURL(),
		AccessToken:   cfg.Upstream.AccessToken,
		Timeout:       cfg.Upstream.Timeout,
		UploadTimeout: cfg.Upstream.UploadTimeout,
		Retry:         retry,
		Logger:        logger.With("component", "upstream"),
	})

	loc := cfg.Location()

	orchestrator := campaign.New(campaign.Options{
		Client:  client,
		Store:   recordStore,
		Loc:     loc,
		Logger:  logger.With("component", "orchestrator"),
		Metrics: m,
	})

	sched := scheduler.New(scheduler.Options{
		Store:        recordStore,
		Activator:    orchestrator,
		PollInterval: cfg.Scheduler.PollInterval,
		FireTimeout:  cfg.Scheduler.FireTimeout,
		Logger:       logger.With("component", "scheduler"),
		Metrics:      m,
	})

	apiServer := api.NewServer(api.ServerOptions{
		Campaigns: orchestrator,
		Schedules: sched,
		Store:     recordStore,
		Config:    &cfg.API,
		Loc:       loc,
		Logger:    logger.With("component", "api"),
		Metrics:   m,
	})

	return &App{
		config:        cfg,
		store:         recordStore,
		orchestrator:  orchestrator,
		scheduler:     sched,
		apiServer:     apiServer,
		metricsServer: metricsServer,
		logger:        logger,
	}, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting adpilot",
		"api_addr", a.config.API.ListenAddr,
		"store_path", a.config.Store.Path,
		"timezone", a.config.Scheduler.Timezone,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Surface schedule inconsistencies before the firing loop starts
	if err := a.scheduler.Audit(ctx); err != nil {
		return fmt.Errorf("schedule audit: %w", err)
	}
	a.scheduler.Start(ctx)

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

	// Wait for shutdown signal or error
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

	// Stop the firing loop first so no activation starts mid-shutdown
	a.scheduler.Stop()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("store close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
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
