package expression

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/value"
)

func facts(m map[string]any) MapFacts {
	out := MapFacts{}
	for k, v := range m {
		out[k] = value.MustFromAny(v)
	}
	return out
}

func TestEvalBool(t *testing.T) {
	f := facts(map[string]any{
		"x":      10,
		"name":   "Alice",
		"tags":   []any{"vip", "beta"},
		"user":   map[string]any{"age": 21, "address": map[string]any{"city": "Oslo"}},
		"empty":  "",
		"ratio":  0.25,
		"nested": nil,
		"big":    int64(1) << 40,
		"huge":   int64(1) << 62,
	})

	testCases := []struct {
		name     string
		expr     string
		expected bool
	}{
		{"greater", "x > 5", true},
		{"absent field comparison is false", "missing > 5", false},
		{"absent field inequality is false", "missing != 5", false},
		{"absent membership is false", "missing not in [1]", false},
		{"int float equality", "x == 10.0", true},
		{"incomparable is false", "name > 3", false},
		{"nested map", "user.age >= 18 and user.address.city == 'Oslo'", true},
		{"membership", "'vip' in tags", true},
		{"not in", "'gold' not in tags", true},
		{"substring", "'lic' in name", true},
		{"or short circuits", "x > 5 or missing + 1 > 0", true},
		{"and short circuits", "x < 5 and missing + 1 > 0", false},
		{"not", "not (x > 50)", true},
		{"truthy string", "name", true},
		{"falsy empty string", "empty", false},
		{"falsy null", "nested", false},
		{"null equality", "nested == null", true},
		{"arithmetic", "x * ratio == 2.5", true},
		{"python modulo", "-7 % 3 == 2", true},
		{"true division", "x / 4 == 2.5", true},
		{"builtins", "len(tags) == 2 and abs(-3) == 3 and max(1, x) == 10", true},
		{"sum", "sum([1, 2, 3.5]) == 6.5", true},
		{"startswith", "startswith(name, 'Al') and endswith(name, 'ce')", true},
		{"startswith absent", "startswith(missing, 'Al')", false},
		{"contains operator", "tags contains 'beta'", true},
		{"explicit not over absent membership", "not (missing in [1, 2])", true},
		{"bang over absent membership", "!(missing in [1, 2])", true},
		{"not in with absent operand", "missing not in [1, 2]", false},
		{"explicit not over present membership", "not ('vip' in tags)", false},
		{"matches operator", "name matches '^A.*e$'", true},
		{"matches call", "matches(name, 'li')", true},
		{"matches absent", "missing matches 'x'", false},
		{"large exponent", "1 ** big > 0", true},
		{"power overflow promotes", "10 ** 19 > 0", true},
		{"product overflow promotes", "huge * 4 > 0", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			n, err := Parse(tc.expr)
			require.NoError(t, err)
			var e Evaluator
			got, err := e.EvalBool(n, f)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got, "Expected %v for %s", tc.expected, tc.expr)
		})
	}
}

func TestEval_Errors(t *testing.T) {
	f := facts(map[string]any{"x": 1, "s": "a"})

	testCases := []struct {
		name   string
		expr   string
		target error
	}{
		{"division by zero", "1/0 > 0", value.ErrDivisionByZero},
		{"modulo by zero", "x % 0", value.ErrDivisionByZero},
		{"absent arithmetic", "missing + 1 > 0", ErrAbsentField},
		{"type mismatch", "s - 1", value.ErrTypeMismatch},
		{"unknown function", "nope(x)", ErrUnknownFunction},
		{"builtin arity", "len(x, x)", ErrArity},
		{"repeat too large", "s * 2000000", value.ErrTooLarge},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			n, err := Parse(tc.expr)
			require.NoError(t, err)
			_, err = Evaluate(n, f)
			require.Error(t, err, "Expected an evaluation error")
			assert.True(t, errors.Is(err, tc.target), "Expected %v, got %v", tc.target, err)
		})
	}
}

func TestEval_DottedKeyPreferred(t *testing.T) {
	f := facts(map[string]any{
		"a.b": 1,
		"a":   map[string]any{"b": 2},
	})
	v, err := Evaluate(Field("a.b"), f)
	require.NoError(t, err)
	assert.Equal(t, value.Int(1), v)

	v, err = Evaluate(Field("a.c"), f)
	require.NoError(t, err)
	assert.True(t, v.IsAbsent())
}

func TestEval_CollectionExpressions(t *testing.T) {
	f := facts(map[string]any{"a": 1, "b": "x"})
	n, err := Parse("[a, b, 3]")
	require.NoError(t, err)
	v, err := Evaluate(n, f)
	require.NoError(t, err)
	assert.Equal(t, `[1, "x", 3]`, v.String())

	n, err = Parse("{'k': a + 1}")
	require.NoError(t, err)
	v, err = Evaluate(n, f)
	require.NoError(t, err)
	assert.Equal(t, `{"k": 2}`, v.String())
}

func TestEval_CacheServesPureCalls(t *testing.T) {
	var pureCalls, unsafeCalls atomic.Int32
	reg := NewRegistry()
	require.NoError(t, reg.RegisterPure("double", func(args []value.Value) (value.Value, error) {
		pureCalls.Add(1)
		return value.Arith("*", args[0], value.Int(2))
	}))
	require.NoError(t, reg.RegisterUnsafe("tick", func(args []value.Value) (value.Value, error) {
		unsafeCalls.Add(1)
		return value.Int(1), nil
	}))

	e := &Evaluator{Functions: reg, Cache: NewCache()}
	n, err := Parse("double(x) > 5 and tick() == 1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ok, err := e.EvalBool(n, facts(map[string]any{"x": 4}))
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, int32(1), pureCalls.Load(), "Pure call should be cached")
	assert.Equal(t, int32(3), unsafeCalls.Load(), "Unsafe call must not be cached")

	ok, err := e.EvalBool(n, facts(map[string]any{"x": 1}))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(2), pureCalls.Load(), "Different field values miss the cache")

	hits, misses := e.Cache.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(2), misses)
}
