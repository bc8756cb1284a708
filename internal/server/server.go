// Package server exposes the pipeline over a JSON HTTP API: scraper
// submission, entity administration and the weekly aggregation outputs.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"newsintel/internal/config"
	"newsintel/internal/features"
	"newsintel/internal/logger"
	"newsintel/internal/persistence"
	"newsintel/internal/pipeline"
)

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	pipeline   *pipeline.Pipeline
	db         persistence.Database
	exporter   *features.Exporter
	config     config.Server
	adminKey   string
	log        *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithAdminKey requires "Authorization: Bearer <key>" on write endpoints.
func WithAdminKey(key string) Option {
	return func(s *Server) { s.adminKey = key }
}

// New creates a new HTTP server instance
func New(p *pipeline.Pipeline, cfg config.Server, opts ...Option) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		pipeline: p,
		db:       p.DB(),
		exporter: features.NewExporter(p.DB()),
		config:   cfg,
		log:      logger.Get(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.log))
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)

	// Synchronous processing can wait on the LLM; keep a generous ceiling.
	s.router.Use(middleware.Timeout(5 * time.Minute))

	if s.config.CORS.Enabled {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.CORS.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
}

// setupRoutes configures routes for the server
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/status", s.handleStatus)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/articles", func(r chi.Router) {
			r.Post("/", s.handleSubmitArticle)
			r.Get("/{id}", s.handleGetArticle)
		})

		r.Route("/entities", func(r chi.Router) {
			r.Get("/", s.handleListEntities)
			r.With(s.requireAdminAPI).Post("/", s.handleCreateEntity)
			r.Get("/{id}", s.handleGetEntity)
			r.With(s.requireAdminAPI).Post("/{id}/aliases", s.handleAddAlias)
			r.Get("/{id}/profiles", s.handleEntityProfiles)
		})
		r.Get("/resolve", s.handleResolve)

		r.Get("/dimensions", s.handleListDimensions)

		r.Route("/rounds", func(r chi.Router) {
			r.Get("/", s.handleListRounds)
			r.Get("/current", s.handleCurrentRound)
			r.With(s.requireAdminAPI).Post("/{id}/aggregate", s.handleAggregateRound)
		})
		r.Get("/verdicts", s.handleListVerdicts)
		r.Get("/features", s.handleFeatures)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("Starting HTTP server",
		"addr", s.httpServer.Addr,
		"read_timeout", s.config.ReadTimeout,
		"write_timeout", s.config.WriteTimeout,
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server gracefully...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info("HTTP server stopped")
	return nil
}

// Router returns the chi router instance (useful for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
