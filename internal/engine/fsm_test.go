package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

type recordingUpdater struct {
	updates []store.ExecutionUpdate
	err     error
}

func (r *recordingUpdater) UpdateExecution(_ context.Context, _ string, u store.ExecutionUpdate) error {
	r.updates = append(r.updates, u)
	return r.err
}

func TestExecutionFSM_RunningToTerminal(t *testing.T) {
	for _, to := range []schema.ExecutionStatus{
		schema.ExecutionCompleted, schema.ExecutionCompletedWithErrors, schema.ExecutionFailed,
	} {
		up := &recordingUpdater{}
		fsm := NewExecutionFSM(up)
		require.NoError(t, fsm.Transition(context.Background(), "e1", schema.ExecutionRunning, to, store.ExecutionUpdate{}))
		require.Len(t, up.updates, 1)
		assert.Equal(t, to, *up.updates[0].Status)
	}
}

func TestExecutionFSM_RejectsInvalid(t *testing.T) {
	up := &recordingUpdater{}
	fsm := NewExecutionFSM(up)

	err := fsm.Transition(context.Background(), "e1", schema.ExecutionCompleted, schema.ExecutionRunning, store.ExecutionUpdate{})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInvalidTransition, schema.CodeOf(err))

	err = fsm.Transition(context.Background(), "e1", schema.ExecutionFailed, schema.ExecutionCompleted, store.ExecutionUpdate{})
	assert.Equal(t, schema.ErrCodeInvalidTransition, schema.CodeOf(err))
	assert.Empty(t, up.updates)
}

func TestExecutionFSM_Hooks(t *testing.T) {
	up := &recordingUpdater{}
	fsm := NewExecutionFSM(up)

	var order []string
	fsm.OnBefore(schema.ExecutionRunning, schema.ExecutionCompleted, func(from, to string) error {
		order = append(order, "before:"+from+">"+to)
		return nil
	})
	fsm.OnAfter(schema.ExecutionRunning, schema.ExecutionCompleted, func(from, to string) error {
		order = append(order, "after")
		return nil
	})
	require.NoError(t, fsm.Transition(context.Background(), "e1", schema.ExecutionRunning, schema.ExecutionCompleted, store.ExecutionUpdate{}))
	assert.Equal(t, []string{"before:RUNNING>COMPLETED", "after"}, order)

	fsm.OnBefore(schema.ExecutionRunning, schema.ExecutionFailed, func(string, string) error { return errors.New("veto") })
	err := fsm.Transition(context.Background(), "e2", schema.ExecutionRunning, schema.ExecutionFailed, store.ExecutionUpdate{})
	assert.EqualError(t, err, "veto")
	assert.Len(t, up.updates, 1)
}

func TestExecutionFSM_StoreErrorWrapped(t *testing.T) {
	fsm := NewExecutionFSM(&recordingUpdater{err: errors.New("disk full")})
	err := fsm.Transition(context.Background(), "e1", schema.ExecutionRunning, schema.ExecutionFailed, store.ExecutionUpdate{})
	assert.Equal(t, schema.ErrCodeStore, schema.CodeOf(err))
}

func TestWorkflowTransitions(t *testing.T) {
	assert.True(t, IsValidWorkflowTransition(schema.WorkflowStatusActive, schema.WorkflowStatusInactive))
	assert.True(t, IsValidWorkflowTransition(schema.WorkflowStatusInactive, schema.WorkflowStatusActive))
	assert.False(t, IsValidWorkflowTransition(schema.WorkflowStatusActive, schema.WorkflowStatusActive))
}
