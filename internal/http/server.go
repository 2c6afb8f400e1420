// Package http serves the opsloop daemon endpoints: health, Prometheus
// metrics, and a small JSON API for agents and reviewers.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsloop/internal/logging"
	"github.com/fyrsmithlabs/opsloop/internal/selfheal"
	"github.com/fyrsmithlabs/opsloop/internal/services"
	"github.com/fyrsmithlabs/opsloop/internal/validation"
)

// Server provides HTTP endpoints for opsloop.
type Server struct {
	echo     *echo.Echo
	registry *services.Registry
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Addr string
}

// NewServer creates a new HTTP server.
func NewServer(registry *services.Registry, logger *zap.Logger, cfg *Config) (*Server, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Addr: "127.0.0.1:9464"}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			c.SetRequest(c.Request().WithContext(logging.WithRequestID(c.Request().Context(), id)))
		},
	}))
	e.Use(metricsMiddleware)
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		registry: registry,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/stats", s.handleStats)
	v1.POST("/sessions/:id/events", s.handleLogEvent)
	v1.POST("/sessions/:id/process", s.handleProcessSession)
	v1.GET("/queue", s.handleQueue)
	v1.POST("/queue/:id/review", s.handleReview)
	v1.POST("/events", s.handleRecordEvent)
	v1.GET("/rules", s.handleRules)
	v1.GET("/instructions/:sector", s.handleInstructions)
}

// Echo returns the underlying router.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	h := s.registry.Health(c.Request().Context())
	code := http.StatusOK
	if h.Status != services.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, HealthResponse{Status: h.Status, Components: h.Components, Counts: &h.Counts})
}

func (s *Server) handleStats(c echo.Context) error {
	st, err := s.registry.Stats(c.Request().Context())
	if err != nil {
		return s.internalError("stats", err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleLogEvent(c echo.Context) error {
	var req EventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Agent == "" || req.Event == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent and event are required")
	}
	id := c.Param("id")
	rec, err := s.registry.Sessions().LogEvent(c.Request().Context(), id, req.Agent, req.Event, req.Details)
	if err != nil {
		return s.internalError("log event", err)
	}
	return c.JSON(http.StatusCreated, EventResponse{SessionID: id, HistoryCount: len(rec.History)})
}

func (s *Server) handleProcessSession(c echo.Context) error {
	res, err := s.registry.ProcessSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.internalError("process session", err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleQueue(c echo.Context) error {
	status := c.QueryParam("status")
	if status != "" && !validation.ValidStatus(status) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status")
	}
	entries, err := s.registry.Queue().List(c.Request().Context(), status)
	if err != nil {
		return s.internalError("list queue", err)
	}
	if entries == nil {
		entries = []validation.Entry{}
	}
	return c.JSON(http.StatusOK, QueueResponse{Entries: entries, Count: len(entries)})
}

func (s *Server) handleReview(c echo.Context) error {
	var req ReviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ok, err := s.registry.Queue().SetStatus(c.Request().Context(), c.Param("id"), req.Status, validation.Review{
		ReviewedBy:   req.ReviewedBy,
		ModifiedFact: req.ModifiedFact,
	})
	switch {
	case errors.Is(err, validation.ErrInvalidStatus), errors.Is(err, validation.ErrEmptyID):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return s.internalError("review", err)
	case !ok:
		return echo.NewHTTPError(http.StatusNotFound, "no live entry with this id")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRecordEvent(c echo.Context) error {
	var ev selfheal.Event
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.registry.Rules().Record(c.Request().Context(), ev); err != nil {
		return s.internalError("record event", err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleRules(c echo.Context) error {
	rules, err := s.registry.Rules().Rules(c.Request().Context())
	if err != nil {
		return s.internalError("rules", err)
	}
	if rules == nil {
		rules = []selfheal.Rule{}
	}
	return c.JSON(http.StatusOK, rules)
}

func (s *Server) handleInstructions(c echo.Context) error {
	sector := selfheal.Sector(c.Param("sector"))
	known := false
	for _, sec := range selfheal.Sectors() {
		known = known || sec == sector
	}
	if !known {
		return echo.NewHTTPError(http.StatusNotFound, "unknown sector")
	}

	minConf := 0.0
	if v := c.QueryParam("min_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "min_confidence must be within [0,1]")
		}
		minConf = f
	}
	out, err := s.registry.Rules().Instructions(c.Request().Context(), sector, minConf)
	if err != nil {
		return s.internalError("instructions", err)
	}
	if out == nil {
		out = []string{}
	}
	return c.JSON(http.StatusOK, InstructionsResponse{Sector: string(sector), Instructions: out})
}

func (s *Server) internalError(op string, err error) error {
	s.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, op+" failed")
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.config.Addr))
	if err := s.echo.Start(s.config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
