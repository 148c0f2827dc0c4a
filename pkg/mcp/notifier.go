package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/autoflow/internal/engine"
)

// ClientNotifier is the subset of *server.MCPServer used to push messages.
type ClientNotifier interface {
	SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error
}

// SessionNotifier implements engine.Notifier using MCP session push.
type SessionNotifier struct {
	server   ClientNotifier
	watchers *WatchRegistry
}

// NewSessionNotifier creates a notifier that pushes to watching sessions.
func NewSessionNotifier(srv ClientNotifier, watchers *WatchRegistry) *SessionNotifier {
	return &SessionNotifier{server: srv, watchers: watchers}
}

// ExecutionFinished notifies every session watching the workflow.
// Best-effort: expired sessions are dropped, not reported.
func (n *SessionNotifier) ExecutionFinished(_ context.Context, summary *engine.ExecutionSummary) error {
	sessions := n.watchers.SessionsFor(summary.WorkflowID)
	if len(sessions) == 0 {
		return nil
	}

	payload, err := summaryPayload(summary)
	if err != nil {
		return err
	}

	var errs []error
	for _, sid := range sessions {
		err := n.server.SendNotificationToSpecificClient(sid, "notifications/message", payload)
		if errors.Is(err, server.ErrSessionNotFound) {
			// Session expired between lookup and send.
			n.watchers.Remove(sid)
			continue
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func summaryPayload(summary *engine.ExecutionSummary) (map[string]any, error) {
	data, err := json.Marshal(summary)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return map[string]any{
		"level":  "info",
		"logger": "autoflow.execution",
		"data":   fields,
	}, nil
}

var _ engine.Notifier = (*SessionNotifier)(nil)
