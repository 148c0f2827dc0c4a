package engine

import (
	"context"
	"time"

	"github.com/rendis/autoflow/internal/locks"
	"github.com/rendis/autoflow/pkg/schema"
)

// GuardedConfig configures a GuardedOrchestrator.
type GuardedConfig struct {
	Guard    locks.Guard // shared with the scheduler driver
	Owner    string      // defaults to locks.DefaultOwner()
	ClaimTTL time.Duration
}

// GuardedOrchestrator runs a workflow only while holding its claim, so
// manual runs never overlap a scheduled or cascaded run of the same
// workflow. A held claim is a CONFLICT error and creates no execution.
type GuardedOrchestrator struct {
	inner Orchestrator
	cfg   GuardedConfig
}

// NewGuardedOrchestrator wraps inner. A nil guard serializes within the
// process only.
func NewGuardedOrchestrator(inner Orchestrator, cfg GuardedConfig) *GuardedOrchestrator {
	if cfg.Guard == nil {
		cfg.Guard = locks.NewMemoryGuard()
	}
	if cfg.Owner == "" {
		cfg.Owner = locks.DefaultOwner()
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 30 * time.Minute
	}
	return &GuardedOrchestrator{inner: inner, cfg: cfg}
}

func (g *GuardedOrchestrator) Run(ctx context.Context, workflowID string, executionType schema.ExecutionType) (*ExecutionSummary, error) {
	release, ok, err := g.cfg.Guard.Claim(ctx, locks.WorkflowKey(workflowID), g.cfg.Owner, g.cfg.ClaimTTL)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "claim workflow %s", workflowID).WithCause(err)
	}
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "workflow %s is already running", workflowID).
			WithDetails(map[string]any{"workflow_id": workflowID})
	}
	defer release()
	return g.inner.Run(ctx, workflowID, executionType)
}

var _ Orchestrator = (*GuardedOrchestrator)(nil)
