package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline-dev/flowline/flow"
)

func TestExprEngine_Name(t *testing.T) {
	assert.Equal(t, "expr", NewExprEngine().Name())
}

func TestExprEngine_Evaluate_Arithmetic(t *testing.T) {
	e := NewExprEngine()
	v, err := e.Evaluate(context.Background(), "1 + 2 * 3", nil)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestExprEngine_Evaluate_DataVariables(t *testing.T) {
	e := NewExprEngine()
	v, err := e.Evaluate(context.Background(), `results.count > 2`, map[string]any{
		"results": map[string]any{"count": 5},
	})
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestExprEngine_Evaluate_ArrayOperations(t *testing.T) {
	e := NewExprEngine()
	v, err := e.Evaluate(context.Background(), `filter(items, # > 2)`, map[string]any{
		"items": []any{1, 2, 3, 4},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{3, 4}, v)
}

func TestExprEngine_Evaluate_NilCoalescing(t *testing.T) {
	e := NewExprEngine()
	v, err := e.Evaluate(context.Background(), `missing ?? "default"`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "default", v)
}

func TestExprEngine_Evaluate_EmptyExpression(t *testing.T) {
	e := NewExprEngine()
	_, err := e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
	assert.Equal(t, flow.ErrCodeValidation, flow.CodeOf(err))
}

func TestExprEngine_Evaluate_CompileError(t *testing.T) {
	e := NewExprEngine()
	_, err := e.Evaluate(context.Background(), "1 +", nil)
	require.Error(t, err)
	assert.Equal(t, flow.ErrCodeExpression, flow.CodeOf(err))
}

func TestExprEngine_CacheReusesPrograms(t *testing.T) {
	e := NewExprEngine()

	for i := 0; i < 3; i++ {
		v, err := e.Evaluate(context.Background(), "n * 2", map[string]any{"n": i})
		require.NoError(t, err)
		assert.Equal(t, i*2, v)
	}
	assert.Equal(t, 1, e.cache.len())
}
