package validation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/autoflow/internal/datasync"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// ActionLookup reports whether an action type has a handler.
type ActionLookup interface {
	Has(typ schema.ActionType) bool
}

// ModelLookup resolves the data model a definition targets.
type ModelLookup interface {
	GetDataModel(ctx context.Context, id string) (*store.DataModel, error)
	ListAttributes(ctx context.Context, dataModelID string) ([]*store.Attribute, error)
}

var knownOperators = map[schema.Operator]bool{
	schema.OpEquals:      true,
	schema.OpNotEquals:   true,
	schema.OpContains:    true,
	schema.OpNotContains: true,
	schema.OpIsEmpty:     true,
	schema.OpIsNotEmpty:  true,
	schema.OpGreaterThan: true,
	schema.OpLessThan:    true,
}

// validateSemantic checks what the JSON Schema cannot: operators, per-type
// action fields, and the schedule against the trigger type. Unknown operators
// are warnings unless strict is set.
func validateSemantic(def *schema.WorkflowDefinition, lookup ActionLookup, strict bool) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	for i, c := range def.Conditions {
		if !knownOperators[c.Operator] {
			msg := fmt.Sprintf("unsupported operator %q", c.Operator)
			if strict {
				result.AddError(schema.ConditionPath(i, "operator"), schema.ErrCodeUnsupportedOperand, msg)
			} else {
				result.AddWarning(schema.ConditionPath(i, "operator"), schema.ErrCodeUnsupportedOperand, msg+"; the condition will be ignored")
			}
			continue
		}
		if c.Operator == schema.OpGreaterThan || c.Operator == schema.OpLessThan {
			if _, err := strconv.ParseFloat(strings.TrimSpace(c.Value), 64); err != nil {
				result.AddError(schema.ConditionPath(i, "value"), schema.ErrCodeValidation,
					fmt.Sprintf("%s needs a numeric value, got %q", c.Operator, c.Value))
			}
		}
	}

	for i, a := range def.Actions {
		if lookup != nil && !lookup.Has(a.ActionType) {
			result.AddError(schema.ActionPath(i, "action_type"), schema.ErrCodeActionUnavailable,
				fmt.Sprintf("action type %q not supported", a.ActionType))
			continue
		}
		switch a.ActionType {
		case schema.ActionCopyFrom:
			if strings.TrimSpace(a.SourceAttributeID) == "" {
				result.AddError(schema.ActionPath(i, "source_attribute_id"), schema.ErrCodeValidation, "COPY_FROM needs a source attribute")
			} else if a.SourceAttributeID == a.TargetAttributeID {
				result.AddWarning(schema.ActionPath(i, "source_attribute_id"), schema.ErrCodeValidation, "COPY_FROM copies an attribute onto itself")
			}
		case schema.ActionCalculate:
			if strings.TrimSpace(a.CalculationFormula) == "" {
				result.AddError(schema.ActionPath(i, "calculation_formula"), schema.ErrCodeValidation, "CALCULATE needs a formula")
			}
		}
	}

	if len(def.Actions) == 0 {
		result.AddWarning(schema.PathActions, schema.ErrCodeValidation, "workflow has no actions")
	}

	validateSchedule(def, result)
	return result
}

func validateSchedule(def *schema.WorkflowDefinition, result *schema.ValidationResult) {
	sch := def.Schedule
	switch def.TriggerType {
	case schema.TriggerScheduled:
		if sch == nil {
			result.AddError(schema.PathSchedule, schema.ErrCodeValidation, "SCHEDULED workflows need a schedule")
			return
		}
	case schema.TriggerEventBased:
		if sch == nil || !sch.TriggerOnSync {
			result.AddError(schema.SchedulePath("trigger_on_sync"), schema.ErrCodeValidation, "EVENT_BASED workflows need a schedule with trigger_on_sync")
			return
		}
	case schema.TriggerManual:
		if sch != nil {
			result.AddWarning(schema.PathSchedule, schema.ErrCodeValidation, "MANUAL workflows ignore their schedule")
		}
	}
	if sch == nil {
		return
	}

	if sch.ScheduleType == schema.ScheduleCustomCron {
		expr := (&store.Schedule{Config: sch.Config}).CronExpression()
		if _, err := datasync.ParseCron(expr); err != nil {
			result.AddError(schema.SchedulePath("config", "cron"), schema.ErrCodeValidation, fmt.Sprintf("invalid cron expression %q: %s", expr, err.Error()))
		}
	}
	if sch.Timezone != "" {
		if _, err := time.LoadLocation(sch.Timezone); err != nil {
			result.AddError(schema.SchedulePath("timezone"), schema.ErrCodeValidation, fmt.Sprintf("unknown timezone %q", sch.Timezone))
		}
	}
	if sch.StartDate != nil && sch.EndDate != nil && sch.EndDate.Before(*sch.StartDate) {
		result.AddError(schema.SchedulePath("end_date"), schema.ErrCodeValidation, "end_date is before start_date")
	}
	if sch.SyncScheduleID != "" && !sch.TriggerOnSync {
		result.AddWarning(schema.SchedulePath("sync_schedule_id"), schema.ErrCodeValidation, "sync_schedule_id has no effect without trigger_on_sync")
	}
}

// validateModel checks that the data model exists and that every referenced
// attribute belongs to it.
func validateModel(ctx context.Context, def *schema.WorkflowDefinition, models ModelLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if _, err := models.GetDataModel(ctx, def.DataModelID); err != nil {
		if schema.IsNotFound(err) {
			result.AddError("data_model_id", schema.ErrCodeNotFound, fmt.Sprintf("data model %q not found", def.DataModelID))
		} else {
			result.AddError("data_model_id", schema.ErrCodeStore, fmt.Sprintf("load data model %q: %s", def.DataModelID, err.Error()))
		}
		return result
	}
	attrs, err := models.ListAttributes(ctx, def.DataModelID)
	if err != nil {
		result.AddError("data_model_id", schema.ErrCodeStore, fmt.Sprintf("list attributes: %s", err.Error()))
		return result
	}
	owned := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		owned[a.ID] = true
	}
	check := func(path, id string) {
		if id != "" && !owned[id] {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("attribute %q does not belong to data model %q", id, def.DataModelID))
		}
	}
	for i, c := range def.Conditions {
		check(schema.ConditionPath(i, "attribute_id"), c.AttributeID)
	}
	for i, a := range def.Actions {
		check(schema.ActionPath(i, "target_attribute_id"), a.TargetAttributeID)
		check(schema.ActionPath(i, "source_attribute_id"), a.SourceAttributeID)
	}
	return result
}
