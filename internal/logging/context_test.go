package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", WorkflowID(ctx))
	assert.Equal(t, "", ExecutionID(ctx))
	assert.Equal(t, "", SyncID(ctx))

	ctx = WithWorkflowID(ctx, "wf-123")
	ctx = WithExecutionID(ctx, "exec-1")
	ctx = WithSyncID(ctx, "sync-42")

	assert.Equal(t, "wf-123", WorkflowID(ctx))
	assert.Equal(t, "exec-1", ExecutionID(ctx))
	assert.Equal(t, "sync-42", SyncID(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithExecutionID(WithWorkflowID(context.Background(), "wf-abc"), "exec-x")
	LogWith(ctx, logger).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "workflow_id=wf-abc")
	assert.Contains(t, output, "execution_id=exec-x")
	assert.NotContains(t, output, "sync_id")
	assert.Contains(t, output, "test message")
}

func TestLogWithEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LogWith(context.Background(), logger).Info("no context")

	output := buf.String()
	assert.NotContains(t, output, "workflow_id")
	assert.NotContains(t, output, "execution_id")
	assert.Contains(t, output, "no context")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithSyncID(WithWorkflowID(context.Background(), "wf-auto"), "sync-auto")
	logger.InfoContext(ctx, "auto inject")

	output := buf.String()
	assert.Contains(t, output, `"workflow_id":"wf-auto"`)
	assert.Contains(t, output, `"sync_id":"sync-auto"`)
	assert.NotContains(t, output, "execution_id")
}

func TestCorrelationHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	handler := NewCorrelationHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("component", "scheduler")}).WithGroup("tick"))

	logger.InfoContext(WithWorkflowID(context.Background(), "wf-grp"), "grouped", "key", "val")

	output := buf.String()
	assert.Contains(t, output, `"component":"scheduler"`)
	assert.Contains(t, output, "wf-grp")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", "json")

	logger.Info("dropped")
	logger.WarnContext(WithExecutionID(context.Background(), "e1"), "kept")

	output := buf.String()
	assert.NotContains(t, output, "dropped")
	assert.Contains(t, output, `"execution_id":"e1"`)

	buf.Reset()
	New(&buf, "debug", "text").Debug("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
