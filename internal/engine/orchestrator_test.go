package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/internal/actions"
	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/predicate"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

func strp(s string) *string { return &s }

func newTestStore(t *testing.T) *store.LibSQLStore {
	t.Helper()
	s, err := store.NewLibSQLStore(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedTickets creates data model "tickets" with attributes status and note
// and n records t01..tNN with status PENDING.
func seedTickets(t *testing.T, s store.Store, n int) []string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateDataModel(ctx, &store.DataModel{ID: "tickets", Name: "tickets"}))
	require.NoError(t, s.CreateAttribute(ctx, &store.Attribute{ID: "status", DataModelID: "tickets", Name: "status", Type: schema.AttributeText}))
	require.NoError(t, s.CreateAttribute(ctx, &store.Attribute{ID: "note", DataModelID: "tickets", Name: "note", Type: schema.AttributeText}))

	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("t%02d", i+1)
		require.NoError(t, s.CreateRecord(ctx, &store.Record{ID: ids[i], DataModelID: "tickets", IsActive: true}))
		require.NoError(t, s.UpsertValue(ctx, ids[i], "status", strp("PENDING")))
	}
	return ids
}

// reviewWorkflow moves PENDING tickets to REVIEWED.
func reviewWorkflow(t *testing.T, s store.Store) *store.Workflow {
	t.Helper()
	wf := &store.Workflow{
		ID:          "wf-review",
		Name:        "review pending",
		DataModelID: "tickets",
		TriggerType: schema.TriggerManual,
		Status:      schema.WorkflowStatusActive,
		IsActive:    true,
		Conditions: []store.Condition{
			{ID: "c1", AttributeID: "status", Operator: schema.OpEquals, Value: "PENDING", LogicalOperator: schema.LogicalAnd},
		},
		Actions: []store.Action{
			{ID: "a1", ActionType: schema.ActionUpdateValue, TargetAttributeID: "status", Value: "REVIEWED", Order: 1},
		},
	}
	require.NoError(t, s.CreateWorkflow(context.Background(), wf))
	return wf
}

func newOrchestrator(s store.Store, cfg OrchestratorConfig) Orchestrator {
	interp := actions.NewInterpreter(actions.InterpreterConfig{
		Store:    s,
		Registry: actions.NewDefaultRegistry(expressions.NewExprEngine()),
	})
	return NewOrchestrator(s, interp, cfg)
}

func executions(t *testing.T, s store.Store, wfID string) []*store.Execution {
	t.Helper()
	list, err := s.ListExecutions(context.Background(), store.ExecutionFilter{WorkflowID: wfID})
	require.NoError(t, err)
	return list
}

// faultyStore fails value writes for the listed records and can slow reads.
type faultyStore struct {
	store.Store
	failWrites map[string]bool
	readDelay  time.Duration
}

func (s *faultyStore) UpsertValue(ctx context.Context, recordID, attributeID string, value *string) error {
	if s.failWrites[recordID] {
		return errors.New("constraint violation")
	}
	return s.Store.UpsertValue(ctx, recordID, attributeID, value)
}

func (s *faultyStore) GetRecordValues(ctx context.Context, recordID string) (map[string]*string, error) {
	if s.readDelay > 0 {
		select {
		case <-time.After(s.readDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.Store.GetRecordValues(ctx, recordID)
}

func TestRun_PendingToReviewed(t *testing.T) {
	s := newTestStore(t)
	seedTickets(t, s, 3)
	wf := reviewWorkflow(t, s)
	orch := newOrchestrator(s, OrchestratorConfig{})

	sum, err := orch.Run(context.Background(), wf.ID, schema.ExecutionManual)
	require.NoError(t, err)
	assert.True(t, sum.Success)
	assert.Equal(t, schema.ExecutionCompleted, sum.Status)
	assert.Equal(t, 3, sum.RecordsProcessed)
	assert.Equal(t, 3, sum.RecordsUpdated)
	assert.Empty(t, sum.Error)

	v, err := s.GetValue(context.Background(), "t02", "status")
	require.NoError(t, err)
	assert.Equal(t, "REVIEWED", *v)

	exec, err := s.GetExecution(context.Background(), sum.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionCompleted, exec.Status)
	assert.Equal(t, schema.ExecutionManual, exec.ExecutionType)
	assert.NotNil(t, exec.CompletedAt)
	assert.Equal(t, 3, exec.RecordsProcessed)

	rs, err := s.ListExecutionResults(context.Background(), sum.ExecutionID)
	require.NoError(t, err)
	assert.Len(t, rs, 3)

	// Nothing is PENDING any more.
	sum, err = orch.Run(context.Background(), wf.ID, schema.ExecutionManual)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.RecordsProcessed)
	assert.Equal(t, 0, sum.RecordsUpdated)
	assert.Equal(t, schema.ExecutionCompleted, sum.Status)
}

func TestRun_UpdateValueIdempotent(t *testing.T) {
	s := newTestStore(t)
	seedTickets(t, s, 2)
	wf := &store.Workflow{
		ID: "wf-touch", Name: "touch", DataModelID: "tickets", TriggerType: schema.TriggerManual,
		Status: schema.WorkflowStatusActive, IsActive: true,
		Actions: []store.Action{{ID: "a1", ActionType: schema.ActionUpdateValue, TargetAttributeID: "note", Value: "seen"}},
	}
	require.NoError(t, s.CreateWorkflow(context.Background(), wf))
	orch := newOrchestrator(s, OrchestratorConfig{})

	for i := 0; i < 2; i++ {
		sum, err := orch.Run(context.Background(), wf.ID, schema.ExecutionManual)
		require.NoError(t, err)
		assert.Equal(t, 2, sum.RecordsProcessed)
		assert.Equal(t, 2, sum.RecordsUpdated, "run %d", i+1)
	}
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	base := newTestStore(t)
	ids := seedTickets(t, base, 10)
	wf := reviewWorkflow(t, base)
	fs := &faultyStore{Store: base, failWrites: map[string]bool{ids[4]: true}}

	sum, err := newOrchestrator(fs, OrchestratorConfig{RecordConcurrency: 3}).Run(context.Background(), wf.ID, schema.ExecutionManual)
	require.NoError(t, err)
	assert.True(t, sum.Success)
	assert.Equal(t, schema.ExecutionCompletedWithErrors, sum.Status)
	assert.Equal(t, 10, sum.RecordsProcessed)
	assert.Equal(t, 9, sum.RecordsUpdated)
	assert.Contains(t, sum.Error, "record t05 action a1")

	rs, err := base.ListExecutionResults(context.Background(), sum.ExecutionID)
	require.NoError(t, err)
	failed := 0
	for _, r := range rs {
		if r.Status == schema.ResultFailed {
			failed++
			assert.Equal(t, "t05", r.RecordID)
		}
	}
	assert.Equal(t, 1, failed)
	assert.Len(t, rs, 10)

	exec, err := base.GetExecution(context.Background(), sum.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionCompletedWithErrors, exec.Status)
	assert.Equal(t, 9, exec.RecordsUpdated)
}

func TestRun_PreconditionCreatesNoExecution(t *testing.T) {
	s := newTestStore(t)
	seedTickets(t, s, 1)
	wf := reviewWorkflow(t, s)
	require.NoError(t, s.SoftDeleteWorkflow(context.Background(), wf.ID))
	orch := newOrchestrator(s, OrchestratorConfig{})

	_, err := orch.Run(context.Background(), wf.ID, schema.ExecutionScheduled)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodePrecondition, schema.CodeOf(err))

	_, err = orch.Run(context.Background(), "missing", schema.ExecutionManual)
	assert.Equal(t, schema.ErrCodePrecondition, schema.CodeOf(err))

	assert.Empty(t, executions(t, s, wf.ID))
}

func TestRun_StrictCompileErrorFailsExecution(t *testing.T) {
	s := newTestStore(t)
	seedTickets(t, s, 2)
	wf := &store.Workflow{
		ID: "wf-bad", Name: "bad", DataModelID: "tickets", TriggerType: schema.TriggerManual,
		Status: schema.WorkflowStatusActive, IsActive: true,
		Conditions: []store.Condition{{ID: "c1", AttributeID: "status", Operator: schema.OpGreaterThan, Value: "abc"}},
		Actions:    []store.Action{{ID: "a1", ActionType: schema.ActionUpdateValue, TargetAttributeID: "note", Value: "x"}},
	}
	require.NoError(t, s.CreateWorkflow(context.Background(), wf))

	sum, err := newOrchestrator(s, OrchestratorConfig{PredicateMode: predicate.Strict}).Run(context.Background(), wf.ID, schema.ExecutionManual)
	require.NoError(t, err)
	assert.False(t, sum.Success)
	assert.Equal(t, schema.ExecutionFailed, sum.Status)
	assert.NotEmpty(t, sum.Error)

	exec, err := s.GetExecution(context.Background(), sum.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionFailed, exec.Status)
	assert.Equal(t, 0, exec.RecordsProcessed)

	// Permissive mode drops the clause and matches every record.
	sum, err = newOrchestrator(s, OrchestratorConfig{}).Run(context.Background(), wf.ID, schema.ExecutionManual)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionCompleted, sum.Status)
	assert.Equal(t, 2, sum.RecordsProcessed)
	assert.NotEmpty(t, sum.Warnings)
}

func TestRun_RunTimeoutFinalizesWithErrors(t *testing.T) {
	base := newTestStore(t)
	seedTickets(t, base, 6)
	wf := reviewWorkflow(t, base)
	fs := &faultyStore{Store: base, readDelay: 40 * time.Millisecond}

	sum, err := newOrchestrator(fs, OrchestratorConfig{
		RecordConcurrency: 1,
		RunTimeout:        60 * time.Millisecond,
	}).Run(context.Background(), wf.ID, schema.ExecutionManual)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionCompletedWithErrors, sum.Status)
	assert.Equal(t, 6, sum.RecordsProcessed)
	assert.Less(t, sum.RecordsUpdated, 6)
	assert.NotEmpty(t, sum.Error)

	exec, err := base.GetExecution(context.Background(), sum.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionCompletedWithErrors, exec.Status)
}

type runRecorder struct {
	mu        sync.Mutex
	runs      []schema.ExecutionStatus
	summaries []*ExecutionSummary
}

func (r *runRecorder) ObserveRun(_ schema.ExecutionType, status schema.ExecutionStatus, _ time.Duration, _, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, status)
}

func (r *runRecorder) ExecutionFinished(_ context.Context, s *ExecutionSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
	return errors.New("broker down")
}

func TestRun_ObserverAndNotifier(t *testing.T) {
	s := newTestStore(t)
	seedTickets(t, s, 1)
	wf := reviewWorkflow(t, s)
	rec := &runRecorder{}

	sum, err := newOrchestrator(s, OrchestratorConfig{Observer: rec, Notifier: rec}).Run(context.Background(), wf.ID, schema.ExecutionEventBased)
	require.NoError(t, err)

	assert.Equal(t, []schema.ExecutionStatus{schema.ExecutionCompleted}, rec.runs)
	require.Len(t, rec.summaries, 1)
	assert.Equal(t, sum.ExecutionID, rec.summaries[0].ExecutionID)
	assert.Equal(t, schema.ExecutionEventBased, rec.summaries[0].ExecutionType)
}

func TestJoinErrors(t *testing.T) {
	assert.Equal(t, "", JoinErrors(nil))
	assert.Equal(t, "a; b", JoinErrors([]string{"a", "b"}))

	long := make([]string, 1000)
	for i := range long {
		long[i] = "record failed"
	}
	assert.Len(t, JoinErrors(long), MaxErrorMessageLen)

	// Never splits a multi-byte rune.
	s := truncate(strings.Repeat("é", 3), 5)
	assert.Equal(t, "éé", s)

	// An invalid byte before the cut is kept as is.
	bad := "\xff" + strings.Repeat("a", 10) + "é"
	assert.Equal(t, "\xff"+strings.Repeat("a", 10), truncate(bad, 12))
	assert.Equal(t, "\xff"+strings.Repeat("a", 5), truncate(bad, 6))
}

func TestRun_CalculateWithUUIDAttributes(t *testing.T) {
	const (
		priceID = "3f2a9c1e-7b4d-4e2a-9c1e-7b4d4e2a9c1e"
		totalID = "9d1c0b7a-2e4f-4a6b-8c0d-1e2f3a4b5c6d"
	)
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateDataModel(ctx, &store.DataModel{ID: "orders", Name: "orders"}))
	require.NoError(t, s.CreateAttribute(ctx, &store.Attribute{ID: priceID, DataModelID: "orders", Name: "unit price", Type: schema.AttributeNumber}))
	require.NoError(t, s.CreateAttribute(ctx, &store.Attribute{ID: totalID, DataModelID: "orders", Name: "total", Type: schema.AttributeNumber}))
	require.NoError(t, s.CreateRecord(ctx, &store.Record{ID: "o1", DataModelID: "orders", IsActive: true}))
	require.NoError(t, s.UpsertValue(ctx, "o1", priceID, strp("2.5")))

	wf := &store.Workflow{
		ID: "wf-total", Name: "totals", DataModelID: "orders", TriggerType: schema.TriggerManual,
		Status: schema.WorkflowStatusActive, IsActive: true,
		Actions: []store.Action{
			{ID: "a1", ActionType: schema.ActionCalculate, TargetAttributeID: totalID, Order: 1,
				CalculationFormula: `values["` + priceID + `"] * 4`},
			{ID: "a2", ActionType: schema.ActionCalculate, TargetAttributeID: totalID, Order: 2,
				CalculationFormula: `fields["unit price"] * 2`},
		},
	}
	require.NoError(t, s.CreateWorkflow(ctx, wf))

	sum, err := newOrchestrator(s, OrchestratorConfig{}).Run(ctx, wf.ID, schema.ExecutionManual)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionCompleted, sum.Status, sum.Error)
	assert.Equal(t, 1, sum.RecordsUpdated)

	// Both actions read the pre-run snapshot; the later one wins the write.
	v, err := s.GetValue(ctx, "o1", totalID)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "5", *v)

	rs, err := s.ListExecutionResults(ctx, sum.ExecutionID)
	require.NoError(t, err)
	require.Len(t, rs, 2)
	for _, r := range rs {
		assert.Equal(t, schema.ResultSuccess, r.Status, r.ErrorMessage)
	}
}

func TestNotifiers_CallsAllAndJoinsErrors(t *testing.T) {
	a, b := &runRecorder{}, &runRecorder{}
	sum := &ExecutionSummary{ExecutionID: "e1"}

	err := Notifiers{a, nil, b}.ExecutionFinished(context.Background(), sum)
	require.Error(t, err)
	assert.Len(t, a.summaries, 1)
	assert.Len(t, b.summaries, 1)
	assert.Equal(t, 2, strings.Count(err.Error(), "broker down"))

	assert.NoError(t, Notifiers{}.ExecutionFinished(context.Background(), sum))
}
