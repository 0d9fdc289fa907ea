package expression

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/value"
)

func TestCompileAction(t *testing.T) {
	f := facts(map[string]any{"y": 4, "name": "Bo", "items": []any{1, 2}})

	testCases := []struct {
		name     string
		raw      any
		literal  bool
		reads    []string
		expected string
	}{
		{"plain literal", 1, true, nil, "1"},
		{"plain string", "approved", true, nil, `"approved"`},
		{"list literal", []any{"a"}, true, nil, `["a"]`},
		{"whole expression keeps type", "{{ y + 1 }}", false, []string{"y"}, "5"},
		{"whole expression list", "{{ items }}", false, []string{"items"}, "[1, 2]"},
		{"interpolation", "Hello {{ name }}, you have {{ len(items) }} items", false, []string{"items", "name"}, `"Hello Bo, you have 2 items"`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := CompileAction(value.MustFromAny(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.literal, a.IsLiteral())
			if tc.reads == nil {
				assert.Empty(t, a.Reads())
			} else {
				assert.Equal(t, tc.reads, a.Reads())
			}
			v, err := a.Eval(&Evaluator{}, f)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, v.String())
		})
	}
}

func TestCompileAction_Errors(t *testing.T) {
	_, err := CompileAction(value.String("{{ x = 1 }}"))
	assert.Error(t, err)

	_, err = CompileAction(value.String("total {{ x"))
	var pe *ParseError
	assert.True(t, errors.As(err, &pe), "Unclosed template is a parse error")

	a, err := CompileAction(value.String("{{ missing }}"))
	require.NoError(t, err)
	_, err = a.Eval(&Evaluator{}, MapFacts{})
	assert.True(t, errors.Is(err, ErrAbsentField))
}
