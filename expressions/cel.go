package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/flowline-dev/flowline/flow"
)

// scopeKeys are the top-level variables every CEL evaluation sees. Missing
// keys are filled with empty maps so expressions never hit nil references.
var scopeKeys = []string{"input", "results", "item", "index"}

// CELEngine evaluates Common Expression Language expressions. It is the
// engine of choice for conditions and guards. Thread-safe: compiled
// programs are cached and reused across goroutines.
type CELEngine struct {
	env   *cel.Env
	cache *programCache[cel.Program]
}

// NewCELEngine creates a CEL engine with a sandboxed environment exposing
// four top-level variables:
//   - input:   dyn              — the workflow input value
//   - results: map(string, dyn) — completed step outputs keyed by step name
//   - item:    dyn              — the current forEach item, if any
//   - index:   int              — the forEach item index or loop iteration
func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.DynType),
		cel.Variable("results", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("item", cel.DynType),
		cel.Variable("index", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		cache: newProgramCache[cel.Program](),
	}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return "cel"
}

// Evaluate compiles (or retrieves from cache) a CEL expression and runs it
// against the provided data. Keys outside the declared scope are ignored.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, flow.NewError(flow.ErrCodeValidation, "empty CEL expression")
	}

	prg, err := e.cache.get(expression, e.compile)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.Eval(buildActivation(data))
	if err != nil {
		return nil, flow.NewErrorf(flow.ErrCodeExpression,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return out.Value(), nil
}

func (e *CELEngine) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, flow.NewErrorf(flow.ErrCodeExpression,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, flow.NewErrorf(flow.ErrCodeExpression,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return prg, nil
}

// buildActivation fills the declared scope with defaults for missing keys.
func buildActivation(data map[string]any) map[string]any {
	activation := make(map[string]any, len(scopeKeys))
	for _, key := range scopeKeys {
		if v, ok := data[key]; ok && v != nil {
			activation[key] = v
			continue
		}
		switch key {
		case "results":
			activation[key] = map[string]any{}
		case "index":
			activation[key] = -1
		default:
			activation[key] = nil
		}
	}
	return activation
}

var _ Engine = (*CELEngine)(nil)
