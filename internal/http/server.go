// Package http serves the resolution API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ordermatch/internal/config"
	"github.com/fyrsmithlabs/ordermatch/internal/logging"
	"github.com/fyrsmithlabs/ordermatch/internal/pipeline"
)

// Resolver resolves one extracted document.
type Resolver interface {
	Resolve(ctx context.Context, doc *pipeline.Document) (*pipeline.Record, error)
}

// Server provides HTTP endpoints for ordermatch.
type Server struct {
	echo     *echo.Echo
	resolver Resolver
	logger   *logging.Logger
	config   config.ServerConfig
	version  string
}

// NewServer creates a new HTTP server.
func NewServer(resolver Resolver, logger *logging.Logger, cfg config.ServerConfig, version string) (*Server, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	})

	s := &Server{
		echo:     e,
		resolver: resolver,
		logger:   logger,
		config:   cfg,
		version:  version,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/resolve", s.handleResolve)
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: s.version})
}

// handleResolve resolves the posted document. A document that failed
// upstream is still answered with its record, under 502.
func (s *Server) handleResolve(c echo.Context) error {
	ctx := c.Request().Context()
	var doc pipeline.Document
	if err := c.Bind(&doc); err != nil {
		s.logger.Warn(ctx, "invalid resolve request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(doc.Parties) == 0 && len(doc.Items) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "document has no parties or items")
	}
	if doc.ID == "" {
		doc.ID = c.Response().Header().Get(echo.HeaderXRequestID)
	}

	rec, err := s.resolver.Resolve(ctx, &doc)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, rec)
	case errors.Is(err, context.Canceled):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "request cancelled")
	case rec != nil:
		return c.JSON(http.StatusBadGateway, rec)
	default:
		s.logger.Error(ctx, "resolve failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "resolution failed")
	}
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start starts the HTTP server. It blocks until Shutdown.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", s.Addr()))
	if err := s.echo.Start(s.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
