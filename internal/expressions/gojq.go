package expressions

import (
	"context"

	"github.com/itchyny/gojq"

	"github.com/rendis/autoflow/pkg/schema"
)

// GoJQEngine evaluates formulas as jq programs whose input is the record
// environment: ".values.price * .values.qty", ".fields[\"unit price\"]".
type GoJQEngine struct {
	programs *programCache[*gojq.Code]
}

func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{programs: newProgramCache[*gojq.Code]()}
}

func (e *GoJQEngine) Name() string { return "jq" }

// Evaluate returns the program's single output. No output is nil and more
// than one output is collected into []any.
func (e *GoJQEngine) Evaluate(ctx context.Context, formula string, data map[string]any) (any, error) {
	if formula == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}
	code, err := e.programs.load(formula, compileJQ)
	if err != nil {
		return nil, err
	}

	input, _ := jqValue(data).(map[string]any)
	if input == nil {
		input = map[string]any{}
	}
	var results []any
	iter := code.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, evalError("jq", formula, err)
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// compileJQ hides the process environment from $ENV and env.
func compileJQ(formula string) (*gojq.Code, error) {
	q, err := gojq.Parse(formula)
	if err != nil {
		return nil, compileError("jq", formula, err)
	}
	code, err := gojq.Compile(q, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, compileError("jq", formula, err)
	}
	return code, nil
}

// jqValue widens Go integers to float64; gojq rejects other numeric types.
func jqValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[k] = jqValue(x)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = jqValue(x)
		}
		return out
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	}
	return v
}

var _ Engine = (*GoJQEngine)(nil)
