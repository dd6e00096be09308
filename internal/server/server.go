// Package server provides the HTTP server and routing for Radar.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aristath/radar/internal/database"
	"github.com/aristath/radar/internal/modules/signals"
)

// Job is a manually triggerable background job.
type Job interface {
	Name() string
	Run() error
}

// Config holds server configuration.
type Config struct {
	Log     zerolog.Logger
	Port    int
	RadarDB *database.DB
	CacheDB *database.DB
	Store   *signals.Store
	ScanJob Job
	DevMode bool
}

// Server is the HTTP API surface: recipient-scoped signal queries, the
// ack endpoint, audit history, health, and metrics.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	handlers *Handlers
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("module", "server").Logger(),
		handlers: NewHandlers(
			cfg.Log,
			cfg.Store,
			[]*database.DB{cfg.RadarDB, cfg.CacheDB},
			cfg.ScanJob,
		),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	if !cfg.DevMode {
		s.router.Use(middleware.Compress(5))
	}

	s.router.Get("/health", s.handlers.HandleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/recipients/{recipientID}", func(r chi.Router) {
			r.Get("/signals", s.handlers.HandleListSignals)
			r.Get("/signals/{signalID}", s.handlers.HandleGetSignal)
			r.Post("/signals/{signalID}/ack", s.handlers.HandleAck)
			r.Get("/audit", s.handlers.HandleAudit)
		})
		r.Post("/jobs/scan", s.handlers.HandleTriggerScan)
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Router exposes the mux, used in tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving. It blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}
