package expression

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Renders(t *testing.T) {
	testCases := []struct {
		name     string
		src      string
		expected string
	}{
		{"comparison", "x > 5", "(x > 5)"},
		{"equality with string", "status == 'open'", `(status == "open")`},
		{"dotted field", "user.age >= 18", "(user.age >= 18)"},
		{"and binds tighter than or", "a and b or c", "((a and b) or c)"},
		{"symbolic operators", "a && !b", "(a and not (b))"},
		{"flattened and", "a and b and c", "(a and b and c)"},
		{"not in", "x not in [1, 2]", "(x not in [1, 2])"},
		{"explicit not over membership", "not (x in [1, 2])", "not ((x in [1, 2]))"},
		{"bang over membership", "!(x in [1, 2])", "not ((x in [1, 2]))"},
		{"matches operator", "code matches '^A'", `matches(code, "^A")`},
		{"membership", "role in ['admin', 'owner']", `(role in ["admin", "owner"])`},
		{"arithmetic", "price * qty + 1", "((price * qty) + 1)"},
		{"power", "2 ** 3", "(2 ** 3)"},
		{"caret is power", "2 ^ 3", "(2 ** 3)"},
		{"negative literal", "x > -3", "(x > -3)"},
		{"negated field", "-x < 0", "(-(x) < 0)"},
		{"python constants", "flag == True or v == None", "((flag == true) or (v == null))"},
		{"builtin call", "len(items) > 2", "(len(items) > 2)"},
		{"contains call", "contains(tags, 'vip')", `contains(tags, "vip")`},
		{"contains operator", "tags contains 'vip'", `contains(tags, "vip")`},
		{"startsWith operator", "name startsWith 'A'", `startswith(name, "A")`},
		{"custom call", "score(a, b.c) > 0.5", "(score(a, b.c) > 0.5)"},
		{"map literal", "{'a': 1} == m", `({"a": 1} == m)`},
		{"non constant list", "[a, 1]", "[a, 1]"},
		{"equals inside string", "s == 'a=b'", `(s == "a=b")`},
		{"less or equal", "x <= 3 and y != 2", "((x <= 3) and (y != 2))"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			n, err := Parse(tc.src)
			require.NoError(t, err, "Unexpected parse error")
			assert.Equal(t, tc.expected, n.String(), "Unexpected rendering")
		})
	}
}

func TestParse_RoundTrip(t *testing.T) {
	sources := []string{
		"x > 5",
		"a and (b or not c)",
		"x not in [1, 2, 3] or y in {'k': 1}",
		"-x + 2 * (y - 1) >= 10 % 3",
		"len(name) > 3 and startswith(name, 'Al')",
		"user.profile.age < 30.5",
		"max(a, b, 4) == min([1, 2])",
		"s == 'quote \" inside'",
	}
	for _, src := range sources {
		t.Run(src, func(t *testing.T) {
			first, err := Parse(src)
			require.NoError(t, err)
			second, err := Parse(first.String())
			require.NoError(t, err, "Rendering must parse again: %s", first.String())
			assert.Equal(t, first.String(), second.String())
		})
	}
}

func TestParse_Errors(t *testing.T) {
	testCases := []struct {
		name string
		src  string
		pos  int
	}{
		{"assignment", "x = 5", 2},
		{"unterminated string", "name == 'abc", 8},
		{"unbalanced parens", "(x > 5", -1},
		{"empty", "   ", -1},
		{"dangling operator", "x >", -1},
		{"conditional", "x ? 1 : 2", -1},
		{"method call", "name.upper()", -1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.src)
			require.Error(t, err, "Expected a parse error")
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "Expected *ParseError, got %T", err)
			assert.Equal(t, tc.src, pe.Expr)
			assert.Equal(t, tc.pos, pe.Pos)
		})
	}
}

func TestParse_AssignmentMessage(t *testing.T) {
	_, err := Parse("status = 'x'")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "use == for comparison")
}

func TestReadsAndFunctions(t *testing.T) {
	n, err := Parse("len(items) > limit and user.age >= 18 and contains(tags, x) and limit > 0")
	require.NoError(t, err)
	assert.Equal(t, []string{"items", "limit", "tags", "user.age", "x"}, Reads(n))
	assert.Equal(t, []string{"contains", "len"}, Functions(n))

	lit, err := Parse("true")
	require.NoError(t, err)
	assert.Empty(t, Reads(lit), "Reserved words are not fields")
}

func TestStructuredTrees(t *testing.T) {
	gt, err := Parse("x > 1")
	require.NoError(t, err)
	eq, err := Parse("y == 2")
	require.NoError(t, err)

	assert.Equal(t, "((x > 1) and not ((y == 2)))", All(gt, Not(eq)).String())
	assert.Equal(t, "(x > 1)", Any(gt).String(), "Single child is unwrapped")
	assert.Equal(t, "true", All().String())
	assert.Equal(t, "false", Any().String())
}

func TestSimplify(t *testing.T) {
	n, err := Parse("(a and (b and a)) and not (c or c)")
	require.NoError(t, err)
	assert.Equal(t, "(a and b and not (c))", Simplify(n).String())

	lit := MustParse("x > 1")
	assert.Same(t, lit, Simplify(lit), "Non-combinators are returned unchanged")
}
