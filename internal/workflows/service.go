// Package workflows creates, edits, soft-deletes and previews workflow
// definitions.
package workflows

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/internal/predicate"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/validation"
	"github.com/rendis/autoflow/pkg/schema"
)

// MaxPreviewIDs caps the record ids returned by Preview.
const MaxPreviewIDs = 100

// Preview is a dry run of a workflow's predicate.
type Preview struct {
	WorkflowID string   `json:"workflow_id"`
	Matched    int      `json:"matched"`
	RecordIDs  []string `json:"record_ids"`
	Truncated  bool     `json:"truncated,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Config configures a Service.
type Config struct {
	PredicateMode predicate.Mode
	Logger        *slog.Logger
}

// Service is the definition surface over the store.
type Service struct {
	store     store.Store
	validator validation.Validator
	mode      predicate.Mode
	logger    *slog.Logger
}

// NewService creates a Service. A nil validator skips validation.
func NewService(s store.Store, v validation.Validator, cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, validator: v, mode: cfg.PredicateMode, logger: logger}
}

// Create validates def and stores it as a new ACTIVE workflow.
func (s *Service) Create(ctx context.Context, def *schema.WorkflowDefinition) (*store.Workflow, error) {
	if err := s.validate(ctx, def); err != nil {
		return nil, err
	}
	wf := fromDefinition(uuid.NewString(), def)
	wf.Status = schema.WorkflowStatusActive
	wf.IsActive = true
	if err := s.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, storeError("create workflow", err)
	}
	s.logger.InfoContext(ctx, "workflow created", "workflow_id", wf.ID, "trigger_type", wf.TriggerType)
	return s.Get(ctx, wf.ID)
}

// Update replaces the definition of id. Conditions, actions and schedule are
// replaced as a unit. Soft-deleted workflows cannot be edited.
func (s *Service) Update(ctx context.Context, id string, def *schema.WorkflowDefinition) (*store.Workflow, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cur.IsActive {
		return nil, schema.NewErrorf(schema.ErrCodePrecondition, "workflow %s is deleted", id)
	}
	if err := s.validate(ctx, def); err != nil {
		return nil, err
	}
	wf := fromDefinition(id, def)
	wf.Status = cur.Status
	wf.IsActive = true
	wf.CreatedAt = cur.CreatedAt
	if err := s.store.ReplaceWorkflow(ctx, wf); err != nil {
		return nil, storeError("replace workflow", err)
	}
	s.logger.InfoContext(ctx, "workflow updated", "workflow_id", id)
	return s.Get(ctx, id)
}

// SetStatus moves a workflow between ACTIVE and INACTIVE.
func (s *Service) SetStatus(ctx context.Context, id string, to schema.WorkflowStatus) (*store.Workflow, error) {
	wf, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !wf.IsActive {
		return nil, schema.NewErrorf(schema.ErrCodePrecondition, "workflow %s is deleted", id)
	}
	if wf.Status == to {
		return wf, nil
	}
	if !engine.IsValidWorkflowTransition(wf.Status, to) {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition, "workflow %s: %s -> %s", id, wf.Status, to)
	}
	wf.Status = to
	if err := s.store.ReplaceWorkflow(ctx, wf); err != nil {
		return nil, storeError("update workflow status", err)
	}
	s.logger.InfoContext(ctx, "workflow status changed", "workflow_id", id, "status", to)
	return s.Get(ctx, id)
}

// SoftDelete marks id inactive. History stays valid. Deleting twice is a no-op.
func (s *Service) SoftDelete(ctx context.Context, id string) error {
	wf, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !wf.IsActive {
		return nil
	}
	if err := s.store.SoftDeleteWorkflow(ctx, id); err != nil {
		return storeError("delete workflow", err)
	}
	s.logger.InfoContext(ctx, "workflow deleted", "workflow_id", id)
	return nil
}

// Get returns one workflow with conditions, actions and schedule.
func (s *Service) Get(ctx context.Context, id string) (*store.Workflow, error) {
	wf, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, storeError("get workflow", err)
	}
	return wf, nil
}

// List returns workflows matching filter.
func (s *Service) List(ctx context.Context, filter store.WorkflowFilter) ([]*store.Workflow, error) {
	wfs, err := s.store.ListWorkflows(ctx, filter)
	if err != nil {
		return nil, storeError("list workflows", err)
	}
	return wfs, nil
}

// Preview compiles the predicate of id and counts matching records without
// running any action.
func (s *Service) Preview(ctx context.Context, id string) (*Preview, error) {
	wf, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	pred, warnings, err := predicate.Compile(wf.Conditions, predicate.Options{Mode: s.mode})
	if err != nil {
		return nil, err
	}
	ids, err := s.store.FindRecordIDs(ctx, wf.DataModelID, pred)
	if err != nil {
		return nil, storeError("find matching records", err)
	}

	p := &Preview{WorkflowID: id, Matched: len(ids), RecordIDs: ids}
	if len(ids) > MaxPreviewIDs {
		p.RecordIDs = ids[:MaxPreviewIDs]
		p.Truncated = true
	}
	if p.RecordIDs == nil {
		p.RecordIDs = []string{}
	}
	for _, w := range warnings {
		p.Warnings = append(p.Warnings, w.String())
	}
	return p, nil
}

func (s *Service) validate(ctx context.Context, def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	if s.validator == nil {
		return nil
	}
	rep, ok := s.validator.(validation.Reporter)
	if !ok {
		return s.validator.ValidateDefinition(ctx, def)
	}
	res := rep.Validate(ctx, def)
	if res.Valid() && len(res.Warnings) > 0 {
		s.logger.WarnContext(ctx, "workflow definition saved with warnings", "warnings", res.WarningMessages())
	}
	return res.ToError()
}

// storeError keeps typed errors and wraps the rest as STORE_ERROR.
func storeError(op string, err error) error {
	if schema.CodeOf(err) != "" {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

func fromDefinition(id string, def *schema.WorkflowDefinition) *store.Workflow {
	wf := &store.Workflow{
		ID:          id,
		Name:        def.Name,
		Description: def.Description,
		DataModelID: def.DataModelID,
		TriggerType: def.TriggerType,
	}
	for _, c := range def.Conditions {
		wf.Conditions = append(wf.Conditions, store.Condition{
			AttributeID:     c.AttributeID,
			Operator:        c.Operator,
			Value:           c.Value,
			LogicalOperator: c.LogicalOperator,
			Order:           c.Order,
		})
	}
	for _, a := range def.Actions {
		wf.Actions = append(wf.Actions, store.Action{
			ActionType:         a.ActionType,
			TargetAttributeID:  a.TargetAttributeID,
			Value:              a.Value,
			SourceAttributeID:  a.SourceAttributeID,
			CalculationFormula: a.CalculationFormula,
			Order:              a.Order,
		})
	}
	if sch := def.Schedule; sch != nil {
		wf.Schedule = &store.Schedule{
			ScheduleType:   sch.ScheduleType,
			Config:         sch.Config,
			StartDate:      sch.StartDate,
			EndDate:        sch.EndDate,
			Timezone:       sch.Timezone,
			IsActive:       true,
			TriggerOnSync:  sch.TriggerOnSync,
			SyncScheduleID: sch.SyncScheduleID,
		}
	}
	return wf
}
