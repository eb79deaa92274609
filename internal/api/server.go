package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/LeeSinLiang/Janus-sub000/internal/config"
	"github.com/LeeSinLiang/Janus-sub000/internal/metrics"
	"github.com/LeeSinLiang/Janus-sub000/internal/models"
	"github.com/LeeSinLiang/Janus-sub000/internal/poller"
	"github.com/LeeSinLiang/Janus-sub000/internal/publish"
	"github.com/LeeSinLiang/Janus-sub000/internal/repository"
	"github.com/LeeSinLiang/Janus-sub000/internal/strategy"
	"github.com/LeeSinLiang/Janus-sub000/internal/tasks"
	"github.com/LeeSinLiang/Janus-sub000/internal/trigger"
)

// Strategies plans and replaces campaign strategies
type Strategies interface {
	Create(ctx context.Context, req strategy.CreateRequest) (*strategy.Result, error)
	Regenerate(ctx context.Context, req strategy.RegenerateRequest) (*strategy.Result, error)
}

// Publisher publishes posts
type Publisher interface {
	Publish(ctx context.Context, postID string) (*publish.Result, error)
}

// Triggers runs trigger checks and edits trigger configuration
type Triggers interface {
	Check(ctx context.Context) (*trigger.CheckResult, error)
	Configure(ctx context.Context, postID, condition, prompt string) (*models.Trigger, error)
	Clear(ctx context.Context, postID string) error
}

// MetricsRefresher forces a metrics poll
type MetricsRefresher interface {
	RefreshMetrics(ctx context.Context) (*poller.RefreshResult, error)
}

// TaskLister reads the background task queue
type TaskLister interface {
	Stats(ctx context.Context) (*tasks.Stats, error)
	List(ctx context.Context, filter tasks.ListFilter) ([]*tasks.Task, error)
}

// Deps are the services behind the API
type Deps struct {
	Store      *repository.Store
	Strategies Strategies
	Publisher  Publisher
	Triggers   Triggers
	Metrics    MetricsRefresher
	Tasks      TaskLister
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	config     *config.ServerConfig
	version    string
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(cfg *config.ServerConfig, deps Deps, version string, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		deps:      deps,
		config:    cfg,
		version:   version,
		logger:    logger.With("component", "api"),
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.handleListCampaigns)
			r.Post("/", s.handleCreateCampaign)
			r.Get("/{id}", s.handleGetCampaign)
			r.Post("/{id}/regenerate", s.handleRegenerateStrategy)
		})

		r.Route("/posts/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetPost)
			r.Post("/select", s.handleSelectVariant)
			r.Post("/publish", s.handlePublish)
			r.Put("/trigger", s.handleSetTrigger)
			r.Delete("/trigger", s.handleClearTrigger)
		})

		r.Post("/triggers/check", s.handleCheckTriggers)
		r.Post("/metrics/refresh", s.handleRefreshMetrics)
		r.Get("/tasks", s.handleListTasks)
	})
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
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
