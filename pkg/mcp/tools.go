package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

const (
	defaultExecutionsLimit = 20
	maxExecutionsLimit     = 500
)

// handleRunWorkflow executes a workflow with execution type MANUAL.
func (s *AutoflowServer) handleRunWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	if s.orchestrator == nil {
		return mcp.NewToolResultError("workflow execution is not configured"), nil
	}

	if req.GetBool("watch", false) {
		s.captureSession(ctx, workflowID)
	}

	summary, runErr := s.orchestrator.Run(ctx, workflowID, schema.ExecutionManual)
	if runErr != nil {
		return toolError("workflow run failed", runErr), nil
	}
	return marshalResult(summary)
}

// handleTrigger runs one scheduler tick.
func (s *AutoflowServer) handleTrigger(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.scheduler == nil {
		return mcp.NewToolResultError("scheduler is not configured"), nil
	}
	report, err := s.scheduler.Tick(ctx)
	if err != nil {
		return toolError("scheduler tick failed", err), nil
	}
	return marshalResult(report)
}

// handleHealth reports due counts.
func (s *AutoflowServer) handleHealth(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.scheduler == nil {
		return mcp.NewToolResultError("scheduler is not configured"), nil
	}
	h, err := s.scheduler.Health(ctx)
	if err != nil {
		return toolError("health check failed", err), nil
	}
	return marshalResult(h)
}

// handleExecutions lists a workflow's execution history.
func (s *AutoflowServer) handleExecutions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	if s.history == nil {
		return mcp.NewToolResultError("execution history is not configured"), nil
	}

	limit := int(req.GetFloat("limit", defaultExecutionsLimit))
	if limit <= 0 {
		return mcp.NewToolResultError("limit must be positive"), nil
	}
	limit = min(limit, maxExecutionsLimit)

	execs, err := s.history.ListExecutions(ctx, store.ExecutionFilter{
		WorkflowID:    workflowID,
		ExecutionType: schema.ExecutionType(req.GetString("execution_type", "")),
		Limit:         limit,
	})
	if err != nil {
		return toolError("list executions failed", err), nil
	}
	if execs == nil {
		execs = []*store.Execution{}
	}
	return marshalResult(map[string]any{
		"workflow_id": workflowID,
		"executions":  execs,
		"count":       len(execs),
	})
}

// captureSession subscribes the calling session to workflowID.
func (s *AutoflowServer) captureSession(ctx context.Context, workflowID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.watchers.Watch(workflowID, session.SessionID())
	}
}

// toolError renders err with its code when it carries one.
func toolError(prefix string, err error) *mcp.CallToolResult {
	if code := schema.CodeOf(err); code != "" {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", prefix, err.Error()))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: [%s] %s", prefix, schema.ErrCodeExecution, err.Error()))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
