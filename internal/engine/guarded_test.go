package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/internal/locks"
	"github.com/rendis/autoflow/pkg/schema"
)

// blockingOrchestrator holds every run until release is closed.
type blockingOrchestrator struct {
	started chan string
	release chan struct{}
}

func (b *blockingOrchestrator) Run(_ context.Context, id string, _ schema.ExecutionType) (*ExecutionSummary, error) {
	b.started <- id
	<-b.release
	return &ExecutionSummary{WorkflowID: id, Success: true, Status: schema.ExecutionCompleted}, nil
}

type failingGuard struct{}

func (failingGuard) Claim(context.Context, string, string, time.Duration) (locks.Release, bool, error) {
	return func() {}, false, errors.New("redis down")
}

func TestGuardedOrchestrator_RejectsOverlappingRun(t *testing.T) {
	guard := locks.NewMemoryGuard()
	inner := &blockingOrchestrator{started: make(chan string, 1), release: make(chan struct{})}
	g := NewGuardedOrchestrator(inner, GuardedConfig{Guard: guard})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := g.Run(ctx, "wf-1", schema.ExecutionScheduled)
		done <- err
	}()
	assert.Equal(t, "wf-1", <-inner.started)
	assert.True(t, guard.Held(locks.WorkflowKey("wf-1")))

	_, err := g.Run(ctx, "wf-1", schema.ExecutionManual)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))

	close(inner.release)
	require.NoError(t, <-done)
	assert.False(t, guard.Held(locks.WorkflowKey("wf-1")), "claim released after the run")

	inner.started = make(chan string, 1)
	sum, err := g.Run(ctx, "wf-1", schema.ExecutionManual)
	require.NoError(t, err)
	assert.True(t, sum.Success)
}

func TestGuardedOrchestrator_SharesClaimsWithOtherRunners(t *testing.T) {
	guard := locks.NewMemoryGuard()
	release, ok, err := guard.Claim(context.Background(), locks.WorkflowKey("wf-1"), "scheduler", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	s := newTestStore(t)
	seedTickets(t, s, 1)
	wf := reviewWorkflow(t, s)
	g := NewGuardedOrchestrator(newOrchestrator(s, OrchestratorConfig{}), GuardedConfig{Guard: guard})

	_, err = g.Run(context.Background(), "wf-1", schema.ExecutionManual)
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))
	release()

	sum, err := g.Run(context.Background(), wf.ID, schema.ExecutionManual)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.RecordsUpdated)
	assert.Empty(t, executions(t, s, "wf-1"), "a refused run creates no execution")
}

func TestGuardedOrchestrator_GuardError(t *testing.T) {
	g := NewGuardedOrchestrator(&blockingOrchestrator{}, GuardedConfig{Guard: failingGuard{}})
	_, err := g.Run(context.Background(), "wf-1", schema.ExecutionManual)
	assert.Equal(t, schema.ErrCodeStore, schema.CodeOf(err))
}
