package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/flowserve/internal/config"
	"github.com/me/flowserve/internal/orchestrator"
	"github.com/me/flowserve/internal/scheduler"
)

// Version is reported by the health and discovery endpoints.
const Version = "0.1.0"

// Server is the flowserve REST API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	svc       orchestrator.Service
	scheduler scheduler.Scheduler

	watchInterval time.Duration
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithScheduler attaches the schedule materializer reported by /health.
func WithScheduler(sched scheduler.Scheduler) Option {
	return func(s *Server) {
		s.scheduler = sched
	}
}

// WithWatchInterval sets how often flow run event streams poll for changes.
func WithWatchInterval(d time.Duration) Option {
	return func(s *Server) {
		s.watchInterval = d
	}
}

// New creates a new Server with all routes registered.
func New(cfg config.ServerConfig, svc orchestrator.Service, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		svc:       svc,

		watchInterval: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(tokenAuthMiddleware(s.config.APITokens, s.logger))
			s.apiRoutes(r)
		})
	})
}

func (s *Server) apiRoutes(r chi.Router) {
	r.Route("/deployments", func(r chi.Router) {
		r.Get("/", s.handleListDeployments)
		r.Post("/", s.handleUpsertDeployment)
		r.Get("/name/{flow}/{name}", s.handleGetDeploymentByName)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetDeployment)
			r.Put("/schedule", s.handleSetScheduleActive)
			r.Post("/flow_runs", s.handleCreateFlowRun)
		})
	})

	r.Route("/flow_runs", func(r chi.Router) {
		r.Get("/", s.handleListFlowRuns)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetFlowRun)
			r.Put("/state", s.handleSetFlowRunState)
			r.Get("/events", s.handleFlowRunEvents)
		})
	})

	r.Route("/variables/{name}", func(r chi.Router) {
		r.Get("/", s.handleGetVariable)
		r.Put("/", s.handleSetVariable)
		r.Delete("/", s.handleUnsetVariable)
	})
}
