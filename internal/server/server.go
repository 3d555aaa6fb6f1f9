// Package server is the optional control API: health, status, positions,
// run history and a manual reinvestment trigger.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/yllvar/Compound-Explorer/internal/domain"
	"github.com/yllvar/Compound-Explorer/internal/server/handler"
	"github.com/yllvar/Compound-Explorer/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port   int
	APIKey string // empty disables authentication
}

// Handlers aggregates the route handlers. Positions, Runs and Reinvest are
// optional.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Positions *handler.PositionHandler
	Runs      *handler.RunsHandler
	Reinvest  *handler.ReinvestHandler
}

// Server wraps the net/http server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and middleware. A nil limiter leaves the manual
// trigger unlimited.
func NewServer(cfg Config, h Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, h, limiter, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed, wrapped handler.
func NewHandler(cfg Config, h Handlers, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)
	if h.Positions != nil {
		mux.HandleFunc("GET /api/positions", h.Positions.ListPositions)
	}
	if h.Runs != nil {
		mux.HandleFunc("GET /api/runs", h.Runs.ListRuns)
	}
	if h.Reinvest != nil {
		var trigger http.Handler = http.HandlerFunc(h.Reinvest.TriggerReinvest)
		if limiter != nil {
			trigger = middleware.RateLimit(limiter, "reinvest", 5, time.Minute, logger)(trigger)
		}
		mux.Handle("POST /api/reinvest", trigger)
	}

	var out http.Handler = mux
	out = middleware.Auth(cfg.APIKey, "/api/health")(out)
	out = middleware.Logging(logger)(out)
	return out
}

// Start listens until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
