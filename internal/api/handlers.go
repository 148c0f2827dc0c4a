package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// DefaultHistoryLimit and MaxHistoryLimit bound GET .../executions.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// TriggerScheduler runs one scheduler tick.
// (POST /api/scheduler/trigger)
func (s *Server) TriggerScheduler(c echo.Context) error {
	report, err := s.deps.Scheduler.Tick(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// SchedulerHealth reports what is due without running it.
// (GET /api/scheduler/health)
func (s *Server) SchedulerHealth(c echo.Context) error {
	h, err := s.deps.Scheduler.Health(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h)
}

// RunWorkflow executes a workflow manually. A FAILED execution is still a
// 200 with the summary. Precondition failures and a run already holding the
// workflow's claim are 409s.
// (POST /api/workflows/:id/run)
func (s *Server) RunWorkflow(c echo.Context) error {
	summary, err := s.deps.Orchestrator.Run(c.Request().Context(), c.Param("id"), schema.ExecutionManual)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

// CreateWorkflow validates and stores a new workflow.
// (POST /api/workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	var def schema.WorkflowDefinition
	if err := c.Bind(&def); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	wf, err := s.deps.Workflows.Create(c.Request().Context(), &def)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, wf)
}

// GetWorkflow returns one workflow with its children.
// (GET /api/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	wf, err := s.deps.Workflows.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, wf)
}

// UpdateWorkflow replaces a workflow definition.
// (PUT /api/workflows/:id)
func (s *Server) UpdateWorkflow(c echo.Context) error {
	var def schema.WorkflowDefinition
	if err := c.Bind(&def); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	wf, err := s.deps.Workflows.Update(c.Request().Context(), c.Param("id"), &def)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, wf)
}

// DeleteWorkflow soft-deletes a workflow.
// (DELETE /api/workflows/:id)
func (s *Server) DeleteWorkflow(c echo.Context) error {
	if err := s.deps.Workflows.SoftDelete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type statusRequest struct {
	Status schema.WorkflowStatus `json:"status"`
}

// SetWorkflowStatus activates or deactivates a workflow.
// (PUT /api/workflows/:id/status)
func (s *Server) SetWorkflowStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Status == "" {
		return schema.NewError(schema.ErrCodeValidation, "status is required")
	}
	wf, err := s.deps.Workflows.SetStatus(c.Request().Context(), c.Param("id"), req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, wf)
}

// PreviewWorkflow counts matching records without applying actions.
// (GET /api/workflows/:id/preview)
func (s *Server) PreviewWorkflow(c echo.Context) error {
	p, err := s.deps.Workflows.Preview(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// ListExecutions returns a workflow's executions, newest first.
// (GET /api/workflows/:id/executions?type=MANUAL&limit=20)
func (s *Server) ListExecutions(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := s.deps.Workflows.Get(ctx, id); err != nil {
		return err
	}

	limit := DefaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return schema.NewErrorf(schema.ErrCodeValidation, "invalid limit %q", raw)
		}
		limit = min(n, MaxHistoryLimit)
	}

	execs, err := s.deps.History.ListExecutions(ctx, store.ExecutionFilter{
		WorkflowID:    id,
		ExecutionType: schema.ExecutionType(c.QueryParam("type")),
		Limit:         limit,
	})
	if err != nil {
		return err
	}
	if execs == nil {
		execs = []*store.Execution{}
	}
	return c.JSON(http.StatusOK, execs)
}

// ListExecutionResults returns the per-record audit rows of one execution.
// (GET /api/executions/:id/results)
func (s *Server) ListExecutionResults(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := s.deps.History.GetExecution(ctx, id); err != nil {
		return err
	}
	results, err := s.deps.History.ListExecutionResults(ctx, id)
	if err != nil {
		return err
	}
	if results == nil {
		results = []*store.ExecutionResult{}
	}
	return c.JSON(http.StatusOK, results)
}
