package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionEvaluator_EmptyExpressionIsTrue(t *testing.T) {
	ok, err := NewConditionEvaluator().Evaluate("", map[string]any{})

	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConditionEvaluator_Comparisons(t *testing.T) {
	evaluator := NewConditionEvaluator()
	env := map[string]any{"score": 5, "status": "ok", "enabled": true}

	cases := []struct {
		expression string
		expected   bool
	}{
		{"score > 3", true},
		{"score >= 6", false},
		{"status == 'ok'", true},
		{"status != 'ok'", false},
		{"score > 3 && enabled", true},
		{"score > 10 || status == 'ok'", true},
		{"!enabled", false},
	}

	for _, tc := range cases {
		t.Run(tc.expression, func(t *testing.T) {
			ok, err := evaluator.Evaluate(tc.expression, env)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, ok)
		})
	}
}

func TestConditionEvaluator_NestedLookups(t *testing.T) {
	env := map[string]any{
		"steps": map[string]any{
			"classify": map[string]any{"output": "routine"},
		},
	}

	ok, err := NewConditionEvaluator().Evaluate("steps.classify.output == 'routine'", env)

	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConditionEvaluator_CompileErrorReturned(t *testing.T) {
	_, err := NewConditionEvaluator().Evaluate("score >", map[string]any{"score": 1})

	assert.Error(t, err)
}

func TestConditionEvaluator_NonBooleanResultIsError(t *testing.T) {
	_, err := NewConditionEvaluator().Evaluate("score + 1", map[string]any{"score": 1})

	assert.Error(t, err)
}

func TestConditionEvaluator_UndefinedVariableFailsAtRuntime(t *testing.T) {
	ok, err := NewConditionEvaluator().Evaluate("missing > 3", map[string]any{})

	assert.Error(t, err)
	assert.False(t, ok)
}

func TestConditionEvaluator_CacheReuse(t *testing.T) {
	evaluator := NewConditionEvaluator()

	for range 3 {
		ok, err := evaluator.Evaluate("n == 1", map[string]any{"n": 1})
		require.NoError(t, err)
		assert.True(t, ok)
	}

	evaluator.mu.RLock()
	defer evaluator.mu.RUnlock()
	assert.Len(t, evaluator.cache, 1)
}
