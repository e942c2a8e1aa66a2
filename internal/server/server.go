// Package server provides the HTTP server and routing for Helmsman.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
	allochandlers "github.com/aristath/helmsman/internal/modules/allocation/handlers"
	"github.com/aristath/helmsman/internal/planner"
)

// PlannerService is the planner surface the HTTP layer needs.
type PlannerService interface {
	TriggerRun(ctx context.Context) bool
	State() planner.State
	Status() *domain.PlannerStatus
	Sequences() []domain.Sequence
}

// Config holds server configuration
type Config struct {
	Port    int
	DevMode bool
	Log     zerolog.Logger

	Planner           PlannerService
	AllocationHandler *allochandlers.Handler
	EventsStream      *EventsStreamHandler
	Invalidations     *InvalidationStreamHandler
	Optimizer         *OptimizerHandler
	System            *SystemHandlers
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    Config
	log    zerolog.Logger
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		log:    cfg.Log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.router,
		// No global write timeout: the SSE streams hold their
		// connections open indefinitely
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/planning", func(r chi.Router) {
			r.Post("/run", s.handleTriggerRun)
			r.Get("/status", s.handlePlanningStatus)
			r.Get("/sequences", s.handlePlanningSequences)
			if s.cfg.Optimizer != nil {
				r.Get("/optimizer-inputs", s.cfg.Optimizer.HandleInputs)
			}
		})

		if s.cfg.AllocationHandler != nil {
			r.Route("/allocation", func(r chi.Router) {
				r.Get("/targets", s.cfg.AllocationHandler.HandleGetTargets)
				r.Put("/targets/{type}", s.cfg.AllocationHandler.HandleUpdateTargets)
				r.Delete("/targets/{type}/{name}", s.cfg.AllocationHandler.HandleDeleteTarget)
				r.Get("/groups", s.cfg.AllocationHandler.HandleGetGroupAllocation)
			})
		}

		r.Route("/events", func(r chi.Router) {
			if s.cfg.EventsStream != nil {
				r.Get("/stream", s.cfg.EventsStream.ServeHTTP)
			}
			if s.cfg.Invalidations != nil {
				r.Get("/invalidations", s.cfg.Invalidations.ServeHTTP)
			}
		})

		if s.cfg.System != nil {
			r.Route("/system", func(r chi.Router) {
				r.Get("/health", s.cfg.System.HandleHealth)
			})
		}
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the mux for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
