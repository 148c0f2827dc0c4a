package validation

import (
	"context"

	"github.com/rendis/autoflow/pkg/schema"
)

// Options configures a WorkflowValidator.
type Options struct {
	Actions ActionLookup // nil skips the handler check
	Models  ModelLookup  // nil skips the data model stage
	// Strict turns unsupported operators into errors.
	Strict bool
}

// WorkflowValidator runs the three-stage pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (operators, action fields, schedule rules)
// 3. Data model (model exists, attributes belong to it)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	opts       Options
}

// NewWorkflowValidator creates a WorkflowValidator.
func NewWorkflowValidator(opts Options) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{jsonSchema: jsv, opts: opts}, nil
}

// Validate returns the aggregated result. Structural errors short-circuit;
// the data model stage runs only when the semantic stage passed.
func (wv *WorkflowValidator) Validate(ctx context.Context, def *schema.WorkflowDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError(schema.PathRoot, schema.ErrCodeValidation, "workflow definition is nil")
		return r
	}

	result := validateStructural(wv.jsonSchema, def)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(def, wv.opts.Actions, wv.opts.Strict))

	if result.Valid() && wv.opts.Models != nil {
		result.Merge(validateModel(ctx, def, wv.opts.Models))
	}
	return result
}

// ValidateDefinition satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error {
	return wv.Validate(ctx, def).ToError()
}

// validateStructural converts the JSON Schema error into a ValidationResult.
func validateStructural(v *JSONSchemaValidator, def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDefinition(def)
	if err == nil {
		return result
	}

	afErr, ok := err.(*schema.AutoflowError)
	if !ok {
		result.AddError(schema.PathRoot, schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := afErr.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError(schema.PathRoot, schema.ErrCodeValidation, v)
		}
		return result
	}
	result.AddError(schema.PathRoot, schema.ErrCodeValidation, afErr.Message)
	return result
}

var _ Validator = (*WorkflowValidator)(nil)
