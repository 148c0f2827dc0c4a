package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/autoflow/pkg/schema"
)

const workflowSchemaURL = "https://autoflow.dev/schemas/workflow.json"

// workflowSchemaJSON is the JSON Schema for WorkflowDefinition. Operators are
// checked in the semantic stage so permissive compilation can drop unknown ones.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://autoflow.dev/schemas/workflow.json",
  "type": "object",
  "required": ["name", "data_model_id", "trigger_type"],
  "properties": {
    "name": { "type": "string", "minLength": 1, "maxLength": 200 },
    "description": { "type": "string" },
    "data_model_id": { "type": "string", "minLength": 1 },
    "trigger_type": { "enum": ["MANUAL", "SCHEDULED", "EVENT_BASED"] },
    "conditions": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/condition" }
    },
    "actions": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/action" }
    },
    "schedule": {
      "oneOf": [ { "type": "null" }, { "$ref": "#/$defs/schedule" } ]
    }
  },
  "additionalProperties": false,
  "$defs": {
    "condition": {
      "type": "object",
      "required": ["attribute_id", "operator"],
      "properties": {
        "attribute_id": { "type": "string", "minLength": 1 },
        "operator": { "type": "string", "minLength": 1 },
        "value": { "type": "string" },
        "logical_operator": { "enum": ["", "AND", "OR"] },
        "order": { "type": "integer" }
      },
      "additionalProperties": false
    },
    "action": {
      "type": "object",
      "required": ["action_type", "target_attribute_id"],
      "properties": {
        "action_type": { "type": "string", "minLength": 1 },
        "target_attribute_id": { "type": "string", "minLength": 1 },
        "value": { "type": "string" },
        "source_attribute_id": { "type": "string" },
        "calculation_formula": { "type": "string" },
        "order": { "type": "integer" }
      },
      "additionalProperties": false
    },
    "schedule": {
      "type": "object",
      "required": ["schedule_type"],
      "properties": {
        "schedule_type": { "enum": ["ONCE", "DAILY", "WEEKLY", "MONTHLY", "CUSTOM_CRON"] },
        "config": {},
        "start_date": { "type": "string", "format": "date-time" },
        "end_date": { "type": "string", "format": "date-time" },
        "timezone": { "type": "string" },
        "trigger_on_sync": { "type": "boolean" },
        "sync_schedule_id": { "type": "string" }
      },
      "additionalProperties": false,
      "if": { "properties": { "schedule_type": { "const": "CUSTOM_CRON" } } },
      "then": {
        "required": ["config"],
        "properties": {
          "config": {
            "type": "object",
            "required": ["cron"],
            "properties": { "cron": { "type": "string", "minLength": 1 } }
          }
        }
      }
    }
  }
}`

// JSONSchemaValidator validates the structure of workflow definitions.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the workflow schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource(workflowSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	compiled, err := c.Compile(workflowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	return &JSONSchemaValidator{workflowSchema: compiled}, nil
}

// ValidateDefinition validates def against the workflow JSON Schema.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow definition").WithCause(err)
	}
	if err := v.workflowSchema.Validate(doc); err != nil {
		return toAutoflowError(err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON so numbers become
// json.Number, as the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toAutoflowError flattens a jsonschema.ValidationError into one message per
// leaf violation, kept under the "violations" detail.
func toAutoflowError(err error) *schema.AutoflowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
