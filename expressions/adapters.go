package expressions

import (
	"github.com/flowline-dev/flowline/flow"
)

// scope builds the evaluation data map from a step context. Engines see the
// same four variables regardless of implementation.
func scope(ctx *flow.Context) map[string]any {
	return map[string]any{
		"input":   ctx.Input(),
		"results": ctx.Results(),
		"item":    ctx.Item(),
		"index":   ctx.Index(),
	}
}

// NewBody adapts an expression into a step body. The expression's value
// becomes the step's output.
func NewBody(eng Engine, expression string) flow.StepFunc {
	return func(ctx *flow.Context) (any, error) {
		return eng.Evaluate(ctx.Context(), expression, scope(ctx))
	}
}

// NewCondition adapts an expression into a condition. The expression must
// evaluate to a boolean.
func NewCondition(eng Engine, expression string) flow.Condition {
	return func(ctx *flow.Context) (bool, error) {
		v, err := eng.Evaluate(ctx.Context(), expression, scope(ctx))
		if err != nil {
			return false, err
		}
		b, ok := v.(bool)
		if !ok {
			return false, flow.NewErrorf(flow.ErrCodeExpression,
				"%s condition %q evaluated to %T, want bool", eng.Name(), expression, v).
				WithDetails(map[string]any{"expression": expression})
		}
		return b, nil
	}
}

// NewItems adapts an expression into a forEach items selector. The
// expression must evaluate to an array.
func NewItems(eng Engine, expression string) flow.ItemsFunc {
	return func(ctx *flow.Context) ([]any, error) {
		v, err := eng.Evaluate(ctx.Context(), expression, scope(ctx))
		if err != nil {
			return nil, err
		}
		items, ok := v.([]any)
		if !ok {
			return nil, flow.NewErrorf(flow.ErrCodeExpression,
				"%s items selector %q evaluated to %T, want array", eng.Name(), expression, v).
				WithDetails(map[string]any{"expression": expression})
		}
		return items, nil
	}
}
