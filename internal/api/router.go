// Package api provides the HTTP surface over the scraping pipeline.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/govwatchmy/procurement-pipeline/internal/api/handlers"
	"github.com/govwatchmy/procurement-pipeline/internal/api/middleware"
	"github.com/govwatchmy/procurement-pipeline/pkg/logger"
)

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int

	// RequestTimeout bounds ordinary requests. The scrape trigger runs
	// synchronously and gets its own, much longer budget.
	RequestTimeout time.Duration
	ScrapeTimeout  time.Duration

	EnableRateLimiting bool
	RateLimitConfig    middleware.RateLimitConfig
}

// DefaultRouterConfig returns a default router configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:     []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:     []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials:   false,
		MaxAge:             300,
		RequestTimeout:     30 * time.Second,
		ScrapeTimeout:      30 * time.Minute,
		EnableRateLimiting: true,
		RateLimitConfig:    middleware.DefaultRateLimitConfig(),
	}
}

// Dependencies holds everything the API handlers need.
type Dependencies struct {
	Logger         *logger.Logger
	Trigger        handlers.ScrapeTrigger
	Sink           handlers.RecordSink
	Health         map[string]handlers.HealthChecker
	RateLimitStore middleware.RateLimitStore
}

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(deps Dependencies, config RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}
	slogger := log.Logger

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(slogger))
	r.Use(middleware.Recoverer(slogger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   config.AllowedOrigins,
		AllowedMethods:   config.AllowedMethods,
		AllowedHeaders:   config.AllowedHeaders,
		ExposedHeaders:   config.ExposedHeaders,
		AllowCredentials: config.AllowCredentials,
		MaxAge:           config.MaxAge,
	}))

	store := deps.RateLimitStore
	if config.EnableRateLimiting && store == nil {
		store = middleware.NewMemoryRateLimitStore()
	}
	limit := func(l middleware.Limit) func(http.Handler) http.Handler {
		if !config.EnableRateLimiting {
			return passthrough
		}
		return middleware.RateLimit(store, l, config.RateLimitConfig, slogger)
	}

	scrapeHandler := handlers.NewScrapeHandler(deps.Trigger, log)
	recordsHandler := handlers.NewRecordsHandler(deps.Sink, log)
	healthHandler := handlers.NewHealthHandler(deps.Health)

	r.Get("/healthz", healthHandler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/scrape", func(r chi.Router) {
			r.With(limit(config.RateLimitConfig.Scrape), chimiddleware.Timeout(config.ScrapeTimeout)).
				Post("/", scrapeHandler.Trigger)
			r.With(limit(config.RateLimitConfig.Default), chimiddleware.Timeout(config.RequestTimeout)).
				Get("/status", scrapeHandler.Status)
		})

		r.Route("/records", func(r chi.Router) {
			r.Use(limit(config.RateLimitConfig.Upload))
			r.Use(chimiddleware.Timeout(config.RequestTimeout))
			r.Post("/", recordsHandler.Upload)
		})
	})

	return r
}

func passthrough(next http.Handler) http.Handler { return next }

// Server wraps http.Server with sensible defaults and graceful shutdown.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:        "",
		Port:        8080,
		ReadTimeout: 15 * time.Second,
		// Scrape runs are long; the write timeout has to outlast them.
		WriteTimeout:    31 * time.Minute,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// NewServer creates a new HTTP server.
func NewServer(handler http.Handler, config ServerConfig, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:         formatAddr(config.Host, config.Port),
			Handler:      handler,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		log: log.WithComponent("http-server"),
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.log.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

func formatAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
