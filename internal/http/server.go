// Package http provides the HTTP API for deadlined.
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

	"github.com/fyrsmithlabs/deadlined/internal/assistant"
	"github.com/fyrsmithlabs/deadlined/internal/deadline"
	"github.com/fyrsmithlabs/deadlined/internal/extraction"
	"github.com/fyrsmithlabs/deadlined/internal/ingestion"
	"github.com/fyrsmithlabs/deadlined/internal/notify"
	"github.com/fyrsmithlabs/deadlined/internal/reminder"
	"github.com/fyrsmithlabs/deadlined/internal/tracker"
)

// Deadlines is the manual deadline path.
type Deadlines interface {
	Create(ctx context.Context, req tracker.CreateRequest) (tracker.Detail, error)
	Get(ctx context.Context, id string) (tracker.Detail, error)
	List(ctx context.Context) ([]deadline.Deadline, error)
	Update(ctx context.Context, id string, req tracker.UpdateRequest) (tracker.Detail, error)
	Delete(ctx context.Context, id string) error
	AddRule(ctx context.Context, deadlineID string, spec tracker.RuleSpec) (deadline.ReminderRule, error)
	SetRuleEnabled(ctx context.Context, deadlineID, ruleID string, enabled bool) (deadline.ReminderRule, error)
}

// Extractor runs the interpreter chain.
type Extractor interface {
	Extract(ctx context.Context, text string) (extraction.Result, error)
	ExtractWith(ctx context.Context, name, text string) (extraction.Result, error)
	Status(ctx context.Context) []extraction.Availability
}

// Ingestion controls the per-source runners.
type Ingestion interface {
	Start(name string) error
	Stop(name string) error
	Status(name string) (ingestion.Status, error)
	Statuses() []ingestion.Status
	Push(name string, texts ...string) (int, error)
}

// Reminders exposes the engine's pending triggers.
type Reminders interface {
	Pending() []reminder.Trigger
	IsRunning() bool
}

// Assistant answers questions about the deadlines.
type Assistant interface {
	Ask(ctx context.Context, question string) (assistant.Answer, error)
}

// DeliveryStats exposes per-channel notification counters.
type DeliveryStats interface {
	Stats() map[deadline.Channel]notify.ChannelStats
}

// Deps are the services behind the API. Stats and Assistant are optional.
type Deps struct {
	Deadlines Deadlines
	Extractor Extractor
	Ingestion Ingestion
	Reminders Reminders
	Stats     DeliveryStats
	Assistant Assistant
	Version   string
}

func (d Deps) validate() error {
	switch {
	case d.Deadlines == nil:
		return fmt.Errorf("deadline service cannot be nil")
	case d.Extractor == nil:
		return fmt.Errorf("extractor cannot be nil")
	case d.Ingestion == nil:
		return fmt.Errorf("ingestion manager cannot be nil")
	case d.Reminders == nil:
		return fmt.Errorf("reminder engine cannot be nil")
	}
	return nil
}

// Server provides HTTP endpoints for deadlined.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
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
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)

	v1.GET("/deadlines", s.handleListDeadlines)
	v1.POST("/deadlines", s.handleCreateDeadline)
	v1.GET("/deadlines/:id", s.handleGetDeadline)
	v1.PUT("/deadlines/:id", s.handleUpdateDeadline)
	v1.DELETE("/deadlines/:id", s.handleDeleteDeadline)
	v1.POST("/deadlines/:id/rules", s.handleAddRule)
	v1.PATCH("/deadlines/:id/rules/:rule_id", s.handleSetRuleEnabled)

	v1.POST("/extract", s.handleExtract)
	v1.GET("/extractors", s.handleExtractors)

	v1.GET("/ingestion", s.handleIngestionList)
	v1.POST("/ingestion/:source/start", s.handleIngestionStart)
	v1.POST("/ingestion/:source/stop", s.handleIngestionStop)
	v1.GET("/ingestion/:source/status", s.handleIngestionStatus)
	v1.POST("/ingestion/:source/messages", s.handleIngestionPush)

	v1.POST("/chat", s.handleChat)
	v1.GET("/chat/suggestions", s.handleChatSuggestions)

	v1.GET("/reminders", s.handleReminders)
	v1.GET("/notifications/stats", s.handleNotificationStats)
}

// Echo exposes the router for extra routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
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

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}
