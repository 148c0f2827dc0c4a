package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to string) error

// ExecutionUpdater persists execution state. Satisfied by store.Store.
type ExecutionUpdater interface {
	UpdateExecution(ctx context.Context, id string, update store.ExecutionUpdate) error
}

// --- Execution FSM ---

type executionHookKey struct {
	from, to schema.ExecutionStatus
}

// ExecutionFSM guards execution status changes: an execution is created
// RUNNING and moves exactly once to a terminal status.
type ExecutionFSM struct {
	mu      sync.Mutex
	updater ExecutionUpdater
	before  map[executionHookKey][]TransitionHook
	after   map[executionHookKey][]TransitionHook
}

// NewExecutionFSM creates an ExecutionFSM that persists through updater.
func NewExecutionFSM(updater ExecutionUpdater) *ExecutionFSM {
	return &ExecutionFSM{
		updater: updater,
		before:  make(map[executionHookKey][]TransitionHook),
		after:   make(map[executionHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before an execution transition.
func (f *ExecutionFSM) OnBefore(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := executionHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after an execution transition.
func (f *ExecutionFSM) OnAfter(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := executionHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates from -> to, then persists update with Status set to to.
// A failing before hook aborts the transition.
func (f *ExecutionFSM) Transition(ctx context.Context, executionID string, from, to schema.ExecutionStatus, update store.ExecutionUpdate) error {
	f.mu.Lock()
	before := slices.Clone(f.before[executionHookKey{from, to}])
	after := slices.Clone(f.after[executionHookKey{from, to}])
	f.mu.Unlock()

	if !IsValidExecutionTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", from, to).
			WithDetails(map[string]any{"execution_id": executionID, "from": string(from), "to": string(to)})
	}

	for _, hook := range before {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	update.Status = &to
	if err := f.updater.UpdateExecution(ctx, executionID, update); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "persist execution %s: %s", to, err.Error()).WithCause(err)
	}

	for _, hook := range after {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}
	return nil
}

// IsValidExecutionTransition reports whether from -> to is allowed.
func IsValidExecutionTransition(from, to schema.ExecutionStatus) bool {
	return slices.Contains(ValidExecutionTransitions[from], to)
}

// IsValidWorkflowTransition reports whether a workflow definition may move
// from -> to. Activation and soft delete are the only changes.
func IsValidWorkflowTransition(from, to schema.WorkflowStatus) bool {
	return slices.Contains(ValidWorkflowTransitions[from], to)
}

// --- Transition tables ---

// ValidExecutionTransitions defines the allowed state transitions for executions.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionRunning:             {schema.ExecutionCompleted, schema.ExecutionCompletedWithErrors, schema.ExecutionFailed},
	schema.ExecutionCompleted:           {},
	schema.ExecutionCompletedWithErrors: {},
	schema.ExecutionFailed:              {},
}

// ValidWorkflowTransitions defines the allowed state transitions for workflow definitions.
var ValidWorkflowTransitions = map[schema.WorkflowStatus][]schema.WorkflowStatus{
	schema.WorkflowStatusActive:   {schema.WorkflowStatusInactive},
	schema.WorkflowStatusInactive: {schema.WorkflowStatusActive},
}
