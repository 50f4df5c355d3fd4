package script_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/cascade/internal/script"
)

func TestLuaExecuteTable(t *testing.T) {
	env := script.NewLuaEnv()
	c, err := env.Compile("return {sum = a + b, items = {1, 2}}", "a", "b")
	require.NoError(t, err)

	res, err := env.Execute(c, map[string]any{"a": 5, "b": 10})
	require.NoError(t, err)
	assert.Equal(t, 15, res["sum"])
	assert.Equal(t, []any{1, 2}, res["items"])
}

func TestLuaExecuteScalar(t *testing.T) {
	env := script.NewLuaEnv()
	c, err := env.Compile("return inputs.name .. '!'", "inputs")
	require.NoError(t, err)

	res, err := env.Execute(c, map[string]any{
		"inputs": map[string]any{"name": "cascade"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": "cascade!"}, res)
}

func TestLuaNestedTables(t *testing.T) {
	env := script.NewLuaEnv()
	c, err := env.Compile(`return {nested = {key = "value", n = 1.5}}`)
	require.NoError(t, err)

	res, err := env.Execute(c, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"key": "value", "n": 1.5}, res["nested"])
}

func TestLuaEvaluatePredicate(t *testing.T) {
	env := script.NewLuaEnv()
	tests := []struct {
		name      string
		predicate string
		args      map[string]any
		expected  bool
	}{
		{"true", "return x > 10", map[string]any{"x": 15}, true},
		{"false", "return x > 10", map[string]any{"x": 5}, false},
		{"nil", "return nil", map[string]any{"x": 5}, false},
		{"string", "return x == 'ok'", map[string]any{"x": "ok"}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := env.Compile(tc.predicate, "x")
			require.NoError(t, err)
			res, err := env.EvaluatePredicate(c, tc.args)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, res)
		})
	}
}

func TestLuaCompileCache(t *testing.T) {
	env := script.NewLuaEnv()
	c1, err := env.Compile("return a", "a", "b")
	require.NoError(t, err)
	c2, err := env.Compile("return a", "b", "a")
	require.NoError(t, err)
	assert.Same(t, c1, c2)
}

func TestLuaErrors(t *testing.T) {
	env := script.NewLuaEnv()

	_, err := env.Compile("   ")
	assert.ErrorIs(t, err, script.ErrEmptyScript)

	err = env.Validate("return (")
	assert.ErrorIs(t, err, script.ErrLuaLoad)

	c, err := env.Compile("error('boom')")
	require.NoError(t, err)
	_, err = env.Execute(c, nil)
	assert.ErrorIs(t, err, script.ErrLuaExecution)
}

func TestLuaSandbox(t *testing.T) {
	env := script.NewLuaEnv()
	c, err := env.Compile("return os == nil and io == nil")
	require.NoError(t, err)
	ok, err := env.EvaluatePredicate(c, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}
