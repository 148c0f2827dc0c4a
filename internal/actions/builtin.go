package actions

import (
	"context"
	"strings"

	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// updateValue writes the action's literal. An empty literal is a valid value.
type updateValue struct{}

func (updateValue) Type() schema.ActionType { return schema.ActionUpdateValue }
func (updateValue) Description() string     { return "Set the target attribute to a literal value." }

func (updateValue) Compute(_ context.Context, _ *RecordContext, action store.Action) (*string, error) {
	v := action.Value
	return &v, nil
}

// setDefault writes the target attribute's default, or "" when it has none.
type setDefault struct{}

func (setDefault) Type() schema.ActionType { return schema.ActionSetDefault }
func (setDefault) Description() string     { return "Reset the target attribute to its configured default." }

func (setDefault) Compute(ctx context.Context, rc *RecordContext, action store.Action) (*string, error) {
	attr, err := rc.Attribute(ctx, action.TargetAttributeID)
	if err != nil {
		return nil, err
	}
	v := ""
	if attr.DefaultValue != nil {
		v = *attr.DefaultValue
	}
	return &v, nil
}

// copyFrom writes the source attribute's snapshot value, "" when unset.
// Without a source it is a no-op.
type copyFrom struct{}

func (copyFrom) Type() schema.ActionType { return schema.ActionCopyFrom }
func (copyFrom) Description() string     { return "Copy another attribute of the same record into the target." }

func (copyFrom) Compute(_ context.Context, rc *RecordContext, action store.Action) (*string, error) {
	if strings.TrimSpace(action.SourceAttributeID) == "" {
		return nil, nil
	}
	v := ""
	if src := rc.Value(action.SourceAttributeID); src != nil {
		v = *src
	}
	return &v, nil
}

// calculate evaluates the formula with the configured engine.
type calculate struct {
	engine expressions.Engine
}

func (*calculate) Type() schema.ActionType { return schema.ActionCalculate }
func (*calculate) Description() string {
	return "Evaluate a formula over the record's values and store the result."
}

func (c *calculate) Compute(ctx context.Context, rc *RecordContext, action store.Action) (*string, error) {
	formula := strings.TrimSpace(action.CalculationFormula)
	if formula == "" {
		return nil, nil
	}
	if c.engine == nil {
		return nil, schema.NewError(schema.ErrCodeActionUnavailable, "no formula engine configured")
	}
	env := expressions.BuildEnv(rc.RecordID, rc.DataModelID, rc.Attributes, rc.Values)
	out, err := c.engine.Evaluate(ctx, formula, env)
	if err != nil {
		return nil, err
	}
	return expressions.FormatResult(out)
}
