package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/rendis/autoflow/pkg/schema"
)

// CELEngine evaluates formulas with cel-go. Formulas read values["id"],
// fields["name"] and record.id; nothing is lifted to the top level.
type CELEngine struct {
	env      *cel.Env
	programs *programCache[cel.Program]
}

// NewCELEngine declares the three record maps as map(string, dyn).
func NewCELEngine() (*CELEngine, error) {
	dynMap := cel.MapType(cel.StringType, cel.DynType)
	env, err := cel.NewEnv(
		cel.Variable(KeyValues, dynMap),
		cel.Variable(KeyFields, dynMap),
		cel.Variable(KeyRecord, dynMap),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEngine{env: env, programs: newProgramCache[cel.Program]()}, nil
}

func (e *CELEngine) Name() string { return "cel" }

func (e *CELEngine) Evaluate(ctx context.Context, formula string, data map[string]any) (any, error) {
	if formula == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}
	prg, err := e.programs.load(formula, e.compile)
	if err != nil {
		return nil, err
	}
	out, _, err := prg.ContextEval(ctx, celActivation(data))
	if err != nil {
		return nil, evalError("CEL", formula, err)
	}
	return out.Value(), nil
}

func (e *CELEngine) compile(formula string) (cel.Program, error) {
	ast, issues := e.env.Compile(formula)
	if issues != nil && issues.Err() != nil {
		return nil, compileError("CEL", formula, issues.Err())
	}
	// ContextEval only honours cancellation with an interrupt check.
	prg, err := e.env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, compileError("CEL", formula, err)
	}
	return prg, nil
}

// celActivation binds every declared map, empty when data lacks it.
func celActivation(data map[string]any) map[string]any {
	act := make(map[string]any, 3)
	for _, key := range []string{KeyValues, KeyFields, KeyRecord} {
		if v, ok := data[key]; ok && v != nil {
			act[key] = v
		} else {
			act[key] = map[string]any{}
		}
	}
	return act
}

var _ Engine = (*CELEngine)(nil)
