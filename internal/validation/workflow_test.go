package validation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

type mockLookup map[schema.ActionType]bool

func newMockLookup(types ...schema.ActionType) mockLookup {
	m := mockLookup{}
	for _, t := range types {
		m[t] = true
	}
	return m
}

func (m mockLookup) Has(t schema.ActionType) bool { return m[t] }

type mockModels struct {
	attrs map[string][]string
	err   error
}

func (m mockModels) GetDataModel(_ context.Context, id string) (*store.DataModel, error) {
	if m.err != nil {
		return nil, m.err
	}
	if _, ok := m.attrs[id]; !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "data_model %s not found", id)
	}
	return &store.DataModel{ID: id, Name: id}, nil
}

func (m mockModels) ListAttributes(_ context.Context, id string) ([]*store.Attribute, error) {
	var out []*store.Attribute
	for _, a := range m.attrs[id] {
		out = append(out, &store.Attribute{ID: a, DataModelID: id})
	}
	return out, nil
}

var allActions = newMockLookup(schema.ActionUpdateValue, schema.ActionSetDefault, schema.ActionCopyFrom, schema.ActionCalculate)

func newValidator(t *testing.T, opts Options) *WorkflowValidator {
	t.Helper()
	if opts.Actions == nil {
		opts.Actions = allActions
	}
	wv, err := NewWorkflowValidator(opts)
	require.NoError(t, err)
	return wv
}

func errorPaths(r *schema.ValidationResult) []string {
	var out []string
	for _, e := range r.Errors {
		out = append(out, e.Path)
	}
	return out
}

func TestWorkflowValidator_FullValid(t *testing.T) {
	wv := newValidator(t, Options{Models: mockModels{attrs: map[string][]string{"tickets": {"status"}}}})
	result := wv.Validate(context.Background(), validDef())
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
	assert.NoError(t, wv.ValidateDefinition(context.Background(), validDef()))
}

func TestWorkflowValidator_NilDef(t *testing.T) {
	wv := newValidator(t, Options{})
	result := wv.Validate(context.Background(), nil)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "nil")
}

func TestWorkflowValidator_StructuralShortCircuits(t *testing.T) {
	def := validDef()
	def.Name = ""
	def.Actions[0].ActionType = schema.ActionCopyFrom // semantic error never reported
	result := newValidator(t, Options{}).Validate(context.Background(), def)
	require.False(t, result.Valid())
	assert.Equal(t, []string{"/"}, errorPaths(result))
}

func TestWorkflowValidator_ActionFields(t *testing.T) {
	def := validDef()
	def.Actions = []schema.ActionDefinition{
		{ActionType: schema.ActionCopyFrom, TargetAttributeID: "status"},
		{ActionType: schema.ActionCalculate, TargetAttributeID: "total", CalculationFormula: "  "},
		{ActionType: "DELETE_RECORD", TargetAttributeID: "status"},
		{ActionType: schema.ActionCopyFrom, TargetAttributeID: "status", SourceAttributeID: "status"},
	}
	result := newValidator(t, Options{}).Validate(context.Background(), def)
	assert.ElementsMatch(t, []string{
		"actions[0].source_attribute_id",
		"actions[1].calculation_formula",
		"actions[2].action_type",
	}, errorPaths(result))
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "actions[3].source_attribute_id", result.Warnings[0].Path)

	err := result.ToError()
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestWorkflowValidator_Operators(t *testing.T) {
	def := validDef()
	def.Conditions = []schema.ConditionDefinition{
		{AttributeID: "status", Operator: "STARTS_WITH", Value: "P"},
		{AttributeID: "price", Operator: schema.OpGreaterThan, Value: "ten"},
		{AttributeID: "price", Operator: schema.OpLessThan, Value: " 12.5 "},
	}

	permissive := newValidator(t, Options{}).Validate(context.Background(), def)
	assert.Equal(t, []string{"conditions[1].value"}, errorPaths(permissive))
	require.Len(t, permissive.Warnings, 1)
	assert.Equal(t, schema.ErrCodeUnsupportedOperand, permissive.Warnings[0].Code)

	strict := newValidator(t, Options{Strict: true}).Validate(context.Background(), def)
	assert.ElementsMatch(t, []string{"conditions[0].operator", "conditions[1].value"}, errorPaths(strict))
}

func TestWorkflowValidator_ScheduleRules(t *testing.T) {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)

	tests := []struct {
		name    string
		trigger schema.TriggerType
		sched   *schema.ScheduleDefinition
		errs    []string
		warns   int
	}{
		{"scheduled without schedule", schema.TriggerScheduled, nil, []string{"schedule"}, 0},
		{"event based without sync trigger", schema.TriggerEventBased,
			&schema.ScheduleDefinition{ScheduleType: schema.ScheduleOnce}, []string{"schedule.trigger_on_sync"}, 0},
		{"event based ok", schema.TriggerEventBased,
			&schema.ScheduleDefinition{ScheduleType: schema.ScheduleOnce, TriggerOnSync: true, SyncScheduleID: "sync-1"}, nil, 0},
		{"manual with schedule", schema.TriggerManual,
			&schema.ScheduleDefinition{ScheduleType: schema.ScheduleDaily}, nil, 1},
		{"unparseable cron", schema.TriggerScheduled,
			&schema.ScheduleDefinition{ScheduleType: schema.ScheduleCustomCron, Config: json.RawMessage(`{"cron":"at noon"}`)},
			[]string{"schedule.config.cron"}, 0},
		{"bad timezone and window", schema.TriggerScheduled,
			&schema.ScheduleDefinition{ScheduleType: schema.ScheduleDaily, Timezone: "Mars/Olympus", StartDate: &start, EndDate: &end},
			[]string{"schedule.timezone", "schedule.end_date"}, 0},
		{"sync id without trigger", schema.TriggerScheduled,
			&schema.ScheduleDefinition{ScheduleType: schema.ScheduleWeekly, SyncScheduleID: "sync-1"}, nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDef()
			def.TriggerType = tt.trigger
			def.Schedule = tt.sched
			result := newValidator(t, Options{}).Validate(context.Background(), def)
			assert.ElementsMatch(t, tt.errs, errorPaths(result))
			assert.Len(t, result.Warnings, tt.warns)
		})
	}
}

func TestWorkflowValidator_DataModelStage(t *testing.T) {
	models := mockModels{attrs: map[string][]string{"tickets": {"status", "note"}}}
	wv := newValidator(t, Options{Models: models})

	def := validDef()
	def.Conditions = append(def.Conditions, schema.ConditionDefinition{AttributeID: "owner", Operator: schema.OpIsEmpty})
	def.Actions = append(def.Actions, schema.ActionDefinition{
		ActionType: schema.ActionCopyFrom, TargetAttributeID: "note", SourceAttributeID: "orders.note",
	})
	result := wv.Validate(context.Background(), def)
	assert.ElementsMatch(t, []string{"conditions[1].attribute_id", "actions[1].source_attribute_id"}, errorPaths(result))

	def = validDef()
	def.DataModelID = "invoices"
	result = wv.Validate(context.Background(), def)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.ErrCodeNotFound, result.Errors[0].Code)

	result = newValidator(t, Options{Models: mockModels{err: errors.New("disk full")}}).Validate(context.Background(), validDef())
	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.ErrCodeStore, result.Errors[0].Code)
}

func TestWorkflowValidator_DataModelStageSkippedOnSemanticErrors(t *testing.T) {
	def := validDef()
	def.DataModelID = "invoices"
	def.Actions[0].ActionType = schema.ActionCalculate
	result := newValidator(t, Options{Models: mockModels{}}).Validate(context.Background(), def)
	assert.Equal(t, []string{"actions[0].calculation_formula"}, errorPaths(result))
}
