// Package http provides the health, readiness, status and metrics endpoints
// of remedyd.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/store"
)

// Backend is what the server asks about the job store.
type Backend interface {
	Ping(ctx context.Context) error
	ListJobs(ctx context.Context, states ...string) ([]store.JobRecord, error)
}

// Server provides HTTP endpoints for remedyd.
type Server struct {
	echo    *echo.Echo
	backend Backend
	logger  *zap.Logger
	config  *Config
	metrics *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string

	// ReadyTimeout bounds the store ping behind /ready.
	ReadyTimeout time.Duration
}

// NewServer creates a new HTTP server.
func NewServer(backend Backend, logger *zap.Logger, cfg *Config) (*Server, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 2 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	m := NewHTTPMetrics(logger)
	e.Use(m.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		backend: backend,
		logger:  logger,
		config:  cfg,
		metrics: m,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/ready", s.handleReady)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
}

// handleHealth returns a simple liveness response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleReady reports whether the job store answers.
func (s *Server) handleReady(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.ReadyTimeout)
	defer cancel()

	if err := s.backend.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		s.metrics.ReadyFailed(c.Request().Context())
		return c.JSON(http.StatusServiceUnavailable, ReadyResponse{Status: "unavailable", Error: err.Error()})
	}
	return c.JSON(http.StatusOK, ReadyResponse{Status: "ready"})
}

// handleStatus returns job counts by state.
func (s *Server) handleStatus(c echo.Context) error {
	all, err := s.backend.ListJobs(c.Request().Context())
	if err != nil {
		s.logger.Error("listing jobs for status", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "job store unavailable")
	}

	resp := StatusResponse{
		Status:  "ok",
		Version: s.config.Version,
		Jobs:    make(map[string]int),
		Total:   len(all),
	}
	for _, j := range all {
		resp.Jobs[j.State]++
	}
	return c.JSON(http.StatusOK, resp)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
