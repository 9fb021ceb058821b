package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline-dev/flowline/flow"
)

func newCEL(t *testing.T) *CELEngine {
	t.Helper()
	e, err := NewCELEngine()
	require.NoError(t, err)
	return e
}

func TestCELEngine_Name(t *testing.T) {
	assert.Equal(t, "cel", newCEL(t).Name())
}

func TestCELEngine_Evaluate_ResultsCondition(t *testing.T) {
	e := newCEL(t)
	v, err := e.Evaluate(context.Background(), `results.status == "ok"`, map[string]any{
		"results": map[string]any{"status": "ok"},
	})
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestCELEngine_Evaluate_InputAndIndex(t *testing.T) {
	e := newCEL(t)
	v, err := e.Evaluate(context.Background(), `index >= 0 && input == "payload"`, map[string]any{
		"input": "payload",
		"index": 2,
	})
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestCELEngine_Evaluate_MissingKeysDefault(t *testing.T) {
	e := newCEL(t)
	v, err := e.Evaluate(context.Background(), `size(results) == 0`, nil)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestCELEngine_Evaluate_EmptyExpression(t *testing.T) {
	e := newCEL(t)
	_, err := e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
	assert.Equal(t, flow.ErrCodeValidation, flow.CodeOf(err))
}

func TestCELEngine_Evaluate_CompileError(t *testing.T) {
	e := newCEL(t)
	_, err := e.Evaluate(context.Background(), "results ==", nil)
	require.Error(t, err)
	assert.Equal(t, flow.ErrCodeExpression, flow.CodeOf(err))
}

func TestCELEngine_Evaluate_UndeclaredVariable(t *testing.T) {
	e := newCEL(t)
	_, err := e.Evaluate(context.Background(), "unknown_var > 1", nil)
	require.Error(t, err)
	assert.Equal(t, flow.ErrCodeExpression, flow.CodeOf(err))
}

func TestCELEngine_CacheReusesPrograms(t *testing.T) {
	e := newCEL(t)

	for i := 0; i < 3; i++ {
		_, err := e.Evaluate(context.Background(), "index > 1", map[string]any{"index": i})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, e.cache.len())
}
