package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"adpilot/internal/config"
	"adpilot/internal/metrics"
	"adpilot/internal/store"
)

// CampaignService is the campaign orchestration surface the API exposes
type CampaignService interface {
	CreateCampaign(ctx context.Context, spec *config.CampaignSpec, startAt *time.Time) (*store.CampaignRecord, error)
	ActivateCampaign(ctx context.Context, id string) (*store.CampaignRecord, error)
	SyncCampaign(ctx context.Context, id string) (map[string]any, *store.CampaignRecord, error)
}

// ScheduleService is the activation scheduling surface the API exposes
type ScheduleService interface {
	Schedule(ctx context.Context, campaignID string, runAt time.Time) (*store.ScheduleRecord, error)
	Cancel(ctx context.Context, jobID string) (*store.ScheduleRecord, error)
	CancelPendingForCampaign(ctx context.Context, campaignID string) (*store.ScheduleRecord, error)
	ListPending(ctx context.Context) ([]*store.ScheduleRecord, error)
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	campaigns  CampaignService
	schedules  ScheduleService
	store      store.Store
	config     *config.APIConfig
	loc        *time.Location
	logger     *slog.Logger
	metrics    *metrics.Metrics
	startTime  time.Time
}

// ServerOptions configures an API server
type ServerOptions struct {
	Campaigns CampaignService
	Schedules ScheduleService
	Store     store.Store
	Config    *config.APIConfig
	Loc       *time.Location
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// NewServer creates a new API server
func NewServer(opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Loc == nil {
		opts.Loc = time.UTC
	}
	s := &Server{
		router:    chi.NewRouter(),
		campaigns: opts.Campaigns,
		schedules: opts.Schedules,
		store:     opts.Store,
		config:    opts.Config,
		loc:       opts.Loc,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/campaigns", s.handleCreateCampaign)
		r.Get("/campaigns", s.handleListCampaigns)
		r.Get("/campaigns/{id}", s.handleGetCampaign)
		r.Post("/campaigns/{id}/activate", s.handleActivateCampaign)
		r.Post("/campaigns/{id}/sync", s.handleSyncCampaign)
		r.Post("/campaigns/{id}/schedule", s.handleScheduleActivation)
		r.Delete("/campaigns/{id}/schedule", s.handleCancelCampaignSchedule)

		r.Get("/schedules", s.handleListSchedules)
		r.Delete("/schedules/{job_id}", s.handleCancelSchedule)

		r.Post("/accounts", s.handleCreateAccount)
		r.Get("/accounts", s.handleListAccounts)
		r.Get("/accounts/{id}", s.handleGetAccount)
	})
}

// Handler returns the server's root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
