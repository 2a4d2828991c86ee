// Package dashboard exposes the run over HTTP: status and event queries for
// a local UI, plus the two operator write paths (command queue and
// whitelisted settings). All reads go through the persisted state files, so
// the dashboard never touches the loop's in-memory state.
package dashboard

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"ralphd/internal/config"
	"ralphd/internal/control"
	"ralphd/internal/plan"
	"ralphd/internal/telemetry"
)

// Config holds the listen address.
type Config struct {
	Host string
	Port int
}

// Server is the dashboard HTTP server.
type Server struct {
	echo   *echo.Echo
	logger *zap.Logger
	config *Config
	deps   Deps
}

// Deps wires the server to the run's state surfaces.
type Deps struct {
	PlanPath   string
	ConfigPath string
	Control    *control.Controller
	Events     *telemetry.Store
}

// NewServer creates the dashboard server.
func NewServer(logger *zap.Logger, cfg *Config, deps Deps) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Control == nil {
		return nil, fmt.Errorf("control controller cannot be nil")
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 8734}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	})

	s := &Server{echo: e, logger: logger, config: cfg, deps: deps}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/status", s.handleStatus)
	s.echo.GET("/api/events", s.handleEvents)
	s.echo.POST("/api/command", s.handleCommand)
	s.echo.POST("/api/settings", s.handleSettings)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Plan     string         `json:"plan"`
	Paused   bool           `json:"paused"`
	Counts   map[string]int `json:"counts"`
	Total    int            `json:"total"`
	Shutdown bool           `json:"shutdown_requested"`
}

// CommandResponse is the body of POST /api/command.
type CommandResponse struct {
	Enqueued bool `json:"enqueued"`
}

// SettingsResponse is the body of POST /api/settings.
type SettingsResponse struct {
	Updated []string `json:"updated"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleStatus reads the persisted plan rather than loop memory; the atomic
// replace discipline on plan.yaml makes that always consistent.
func (s *Server) handleStatus(c echo.Context) error {
	p, err := plan.Load(s.deps.PlanPath)
	if err != nil {
		s.logger.Warn("status: plan unreadable", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "plan not available")
	}

	counts := make(map[string]int)
	total := 0
	for status, n := range p.Counts() {
		counts[string(status)] = n
		total += n
	}

	return c.JSON(http.StatusOK, StatusResponse{
		Plan:     p.Name,
		Paused:   s.deps.Control.Paused(),
		Counts:   counts,
		Total:    total,
		Shutdown: s.deps.Control.ShutdownRequested(),
	})
}

func (s *Server) handleEvents(c echo.Context) error {
	if s.deps.Events == nil {
		return echo.NewHTTPError(http.StatusNotFound, "event log disabled")
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit <= 0 || limit > 1000 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
	}

	events, err := s.deps.Events.Recent(limit)
	if err != nil {
		s.logger.Warn("events query failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "event query failed")
	}
	return c.JSON(http.StatusOK, events)
}

func (s *Server) handleCommand(c echo.Context) error {
	var cmd control.Command
	if err := c.Bind(&cmd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if cmd.Type == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "command field is required")
	}

	if err := s.deps.Control.Queue().Enqueue(cmd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.logger.Info("operator command enqueued", zap.String("command", string(cmd.Type)))
	return c.JSON(http.StatusOK, CommandResponse{Enqueued: true})
}

// handleSettings applies whitelisted settings to the on-disk config. The
// running loop keeps its loaded config; changes take effect on the next run.
func (s *Server) handleSettings(c echo.Context) error {
	var settings map[string]string
	if err := c.Bind(&settings); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(settings) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no settings provided")
	}

	cfg, err := config.Load(s.deps.ConfigPath)
	if err != nil {
		s.logger.Warn("settings: config unreadable", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "config not available")
	}

	updated, err := control.ApplySettings(cfg, s.deps.ConfigPath, settings)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.logger.Info("settings updated", zap.Strings("keys", updated))
	return c.JSON(http.StatusOK, SettingsResponse{Updated: updated})
}

// Start begins serving. Blocks until Shutdown or a listen error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting dashboard", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down dashboard")
	return s.echo.Shutdown(ctx)
}
