package expression

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/value"
)

func TestRegistry_Registration(t *testing.T) {
	reg := NewRegistry()
	noop := func(args []value.Value) (value.Value, error) { return value.Null(), nil }

	require.NoError(t, reg.RegisterPure("score", noop))
	require.NoError(t, reg.RegisterUnsafe("prompt", noop))
	assert.True(t, reg.IsPure("score"))
	assert.False(t, reg.IsPure("prompt"))
	assert.True(t, reg.IsPure("len"), "Builtins are pure")

	err := reg.RegisterPure("len", noop)
	assert.True(t, errors.Is(err, ErrFunctionExists), "Builtins cannot be replaced")
	assert.Error(t, reg.RegisterPure("bad name", noop))
	assert.Error(t, reg.RegisterPure("x", nil))

	assert.Contains(t, reg.Names(), "prompt")
	assert.False(t, NewRegistry().Has("score"), "Registries are independent")
}

func TestRegistry_PanicBecomesFunctionError(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterUnsafe("boom", func(args []value.Value) (value.Value, error) {
		panic("kaboom")
	}))

	_, err := reg.Call("boom", nil)
	require.Error(t, err)
	var fe *FunctionError
	require.True(t, errors.As(err, &fe), "Expected *FunctionError, got %T", err)
	assert.Equal(t, "boom", fe.Name)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestRegistry_ErrorIsWrapped(t *testing.T) {
	sentinel := errors.New("upstream unavailable")
	reg := NewRegistry()
	require.NoError(t, reg.RegisterPure("lookup", func(args []value.Value) (value.Value, error) {
		return value.Absent(), sentinel
	}))

	n, err := Parse("lookup(x) == 1")
	require.NoError(t, err)
	e := &Evaluator{Functions: reg}
	_, err = e.Eval(n, MapFacts{})
	assert.True(t, errors.Is(err, sentinel))
	var fe *FunctionError
	assert.True(t, errors.As(err, &fe))
}

func TestBuiltins(t *testing.T) {
	testCases := []struct {
		name     string
		expr     string
		expected string
	}{
		{"len string", "len('héllo')", "5"},
		{"len map", "len({'a': 1, 'b': 2})", "2"},
		{"sum ints stays int", "sum([1, 2, 3])", "6"},
		{"sum empty", "sum([])", "0"},
		{"abs float", "abs(-2.5)", "2.5"},
		{"min list", "min([3, 1, 2])", "1"},
		{"max args", "max(3, 7.5, 2)", "7.5"},
		{"max strings", "max('a', 'c', 'b')", `"c"`},
		{"contains map key", "contains({'k': 1}, 'k')", "true"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			n, err := Parse(tc.expr)
			require.NoError(t, err)
			v, err := Evaluate(n, MapFacts{})
			require.NoError(t, err)
			assert.Equal(t, tc.expected, v.String())
		})
	}

	_, err := Evaluate(MustParse("min([])"), MapFacts{})
	assert.Error(t, err, "min of an empty list fails")
	_, err = Evaluate(MustParse("max(1, 'a')"), MapFacts{})
	assert.True(t, errors.Is(err, value.ErrTypeMismatch))
}
