// Package api contains the HTTP handlers for the automation engine.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/internal/scheduler"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/workflows"
)

// Scheduler is the tick surface the API triggers.
type Scheduler interface {
	Tick(ctx context.Context) (*scheduler.TickReport, error)
	Health(ctx context.Context) (*scheduler.HealthReport, error)
}

// History reads execution rows for the history endpoints.
type History interface {
	ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*store.Execution, error)
	GetExecution(ctx context.Context, id string) (*store.Execution, error)
	ListExecutionResults(ctx context.Context, executionID string) ([]*store.ExecutionResult, error)
}

// Deps holds the dependencies for the API server.
type Deps struct {
	Workflows    *workflows.Service
	Orchestrator engine.Orchestrator
	Scheduler    Scheduler
	History      History
	Metrics      http.Handler // mounted at /metrics when set
	MCP          http.Handler // mounted at /mcp when set
	ServiceName  string       // otel service name; empty disables tracing middleware
	Logger       *slog.Logger
}

// Server holds the dependencies for the API server.
type Server struct {
	deps   Deps
	logger *slog.Logger
}

// NewServer creates a new Server.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{deps: deps, logger: logger}
}

// Echo builds the router with every route registered.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if s.deps.ServiceName != "" {
		e.Use(otelecho.Middleware(s.deps.ServiceName))
	}
	e.Use(s.requestLogger())

	api := e.Group("/api")
	api.POST("/scheduler/trigger", s.TriggerScheduler)
	api.GET("/scheduler/health", s.SchedulerHealth)

	api.POST("/workflows", s.CreateWorkflow)
	api.GET("/workflows/:id", s.GetWorkflow)
	api.PUT("/workflows/:id", s.UpdateWorkflow)
	api.DELETE("/workflows/:id", s.DeleteWorkflow)
	api.PUT("/workflows/:id/status", s.SetWorkflowStatus)
	api.POST("/workflows/:id/run", s.RunWorkflow)
	api.GET("/workflows/:id/preview", s.PreviewWorkflow)
	api.GET("/workflows/:id/executions", s.ListExecutions)
	api.GET("/executions/:id/results", s.ListExecutionResults)

	if s.deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.deps.Metrics))
	}
	if s.deps.MCP != nil {
		e.Any("/mcp", echo.WrapHandler(s.deps.MCP))
		e.Any("/mcp/*", echo.WrapHandler(s.deps.MCP))
	}
	return e
}

// requestLogger logs one line per request through slog.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error.Error())
			}
			s.logger.LogAttrs(c.Request().Context(), slog.LevelDebug, "http request", slog.Group("http", attrs...))
			return nil
		},
	})
}
