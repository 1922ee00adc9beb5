package exprlang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateArithmeticAndComparison(t *testing.T) {
	result, evalErr := Evaluate("state.counter < 5", map[string]any{
		"state": map[string]any{"counter": 3},
	})
	require.Nil(t, evalErr)
	assert.Equal(t, true, result)
}

func TestEvaluateTernary(t *testing.T) {
	result, evalErr := Evaluate(`state.score >= 90 ? "Excellent" : "Good"`, map[string]any{
		"state": map[string]any{"score": 95},
	})
	require.Nil(t, evalErr)
	assert.Equal(t, "Excellent", result)
}

func TestEvaluateSafeNavigationOnMissingKey(t *testing.T) {
	result, evalErr := Evaluate("state.missing.nested", map[string]any{
		"state": map[string]any{},
	})
	require.Nil(t, evalErr)
	assert.True(t, IsUndefined(result))
}

func TestEvaluateStringConcatenation(t *testing.T) {
	result, evalErr := Evaluate("state.firstName + ' ' + state.lastName", map[string]any{
		"state": map[string]any{"firstName": "Ada", "lastName": "Lovelace"},
	})
	require.Nil(t, evalErr)
	assert.Equal(t, "Ada Lovelace", result)
}

func TestCompileRejectsForbiddenIdentifiers(t *testing.T) {
	for _, src := range []string{
		"process.env.SECRET",
		"global.x",
		"window.location",
		"eval('1+1')",
		"require('fs')",
	} {
		_, evalErr := Compile(src)
		require.NotNil(t, evalErr, "expected rejection for %q", src)
		assert.Equal(t, SyntaxError, evalErr.Kind)
	}
}

func TestMathAndJSONNamespaces(t *testing.T) {
	result, evalErr := Evaluate("Math.floor(state.x)", map[string]any{
		"state": map[string]any{"x": 3.7},
	})
	require.Nil(t, evalErr)
	assert.Equal(t, 3.0, result)

	result, evalErr = Evaluate(`JSON.stringify(state.obj)`, map[string]any{
		"state": map[string]any{"obj": map[string]any{"a": 1}},
	})
	require.Nil(t, evalErr)
	assert.Equal(t, `{"a":1}`, result)
}

func TestParseIntParseFloat(t *testing.T) {
	result, evalErr := Evaluate(`parseInt("42px")`, nil)
	require.Nil(t, evalErr)
	assert.Equal(t, float64(42), result)

	result, evalErr = Evaluate(`parseFloat("3.14")`, nil)
	require.Nil(t, evalErr)
	assert.Equal(t, 3.14, result)
}

func TestCompileOnceRunManyTimes(t *testing.T) {
	program, evalErr := Compile("state.a * 2")
	require.Nil(t, evalErr)

	result, evalErr := program.Run(map[string]any{"state": map[string]any{"a": 2}})
	require.Nil(t, evalErr)
	assert.Equal(t, 4, result)

	result, evalErr = program.Run(map[string]any{"state": map[string]any{"a": 3}})
	require.Nil(t, evalErr)
	assert.Equal(t, 6, result)
}
