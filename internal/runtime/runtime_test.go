package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/expression"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/plan"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/preprocessor"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/rules"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/value"
)

func rule(id string, priority int, condition string, actions map[string]any) rules.Rule {
	return rules.Rule{ID: id, Priority: priority, Condition: rules.Expr(condition), Actions: actions}
}

func compile(t *testing.T, opts preprocessor.Options, defs ...rules.Rule) *plan.Plan {
	t.Helper()
	p, err := preprocessor.Compile(defs, opts)
	require.NoError(t, err)
	return p
}

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e := New(opts)
	t.Cleanup(e.Close)
	return e
}

func TestRun_Chain(t *testing.T) {
	p := compile(t, preprocessor.Options{},
		rule("a", 10, "x > 5", map[string]any{"y": 1}),
		rule("b", 10, "y == 1", map[string]any{"z": 2}),
	)
	e := newEngine(t, Options{Workers: 4})

	res, err := e.Run(context.Background(), p, map[string]any{"x": 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.Fired)
	assert.Equal(t, map[string]any{"y": int64(1), "z": int64(2)}, res.Verdict.Map())
	assert.Equal(t, []string{"y", "z"}, res.Verdict.Keys())
	assert.Equal(t, 2, res.LayersRun)
	assert.False(t, res.Truncated)
	assert.Empty(t, res.Errors)
	assert.NotEmpty(t, res.PassID)

	res, err = e.Run(context.Background(), p, map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Empty(t, res.Fired)
	assert.Equal(t, 0, res.Verdict.Len())
}

func TestRun_ConflictTieBreak(t *testing.T) {
	testCases := []struct {
		name      string
		priorityA int
		priorityB int
	}{
		{"same priority resolves by rule id", 5, 5},
		{"higher priority wins within a layer", 10, 5},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := compile(t, preprocessor.Options{ConflictPolicy: preprocessor.ConflictWarn},
				rule("a", tc.priorityA, "true", map[string]any{"status": "A"}),
				rule("b", tc.priorityB, "true", map[string]any{"status": "B"}),
			)
			e := newEngine(t, Options{Workers: 2})

			res, err := e.Run(context.Background(), p, nil)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, res.Fired, "Both rules execute")
			status, ok := res.Verdict.Get("status")
			require.True(t, ok)
			assert.Equal(t, value.String("A"), status)
		})
	}
}

func TestRun_CrossLayerPriority(t *testing.T) {
	testCases := []struct {
		name     string
		first    int
		second   int
		expected string
	}{
		{"earlier higher priority write is kept", 10, 1, "first"},
		{"later higher priority write replaces", 1, 10, "second"},
		{"later equal priority write replaces", 5, 5, "second"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := compile(t, preprocessor.Options{ConflictPolicy: preprocessor.ConflictWarn},
				rule("first", tc.first, "x > 0", map[string]any{"y": 1, "status": "first"}),
				rule("second", tc.second, "y == 1", map[string]any{"status": "second"}),
			)
			require.Equal(t, [][]string{{"first"}, {"second"}}, p.Layers)
			e := newEngine(t, Options{})

			res, err := e.Run(context.Background(), p, map[string]any{"x": 1})
			require.NoError(t, err)
			assert.Equal(t, []string{"first", "second"}, res.Fired)
			assert.Equal(t, tc.expected, res.Verdict.Map()["status"])
		})
	}
}

func TestRun_Isolation(t *testing.T) {
	p := compile(t, preprocessor.Options{},
		rules.Rule{ID: "bad", Condition: rules.Expr("1/0 > 0"), Actions: map[string]any{"x": 1}},
		rules.Rule{ID: "good", Condition: rules.Expr("true"), Actions: map[string]any{"y": 1}},
	)
	e := newEngine(t, Options{Workers: 2})

	res, err := e.Run(context.Background(), p, nil)
	require.NoError(t, err, "A failing rule never fails the pass")
	assert.Equal(t, []string{"good"}, res.Fired)
	assert.Equal(t, map[string]any{"y": int64(1)}, res.Verdict.Map())
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "bad", res.Errors[0].RuleID)
	assert.Equal(t, PhaseCondition, res.Errors[0].Phase)
	assert.True(t, errors.Is(res.Errors[0].Err, value.ErrDivisionByZero), "Expected division by zero, got %v", res.Errors[0].Err)
}

func TestRun_IsolationFailingFunction(t *testing.T) {
	build := func(fn expression.Func) *plan.Plan {
		reg := expression.NewRegistry()
		require.NoError(t, reg.RegisterUnsafe("lookup", fn))
		return compile(t, preprocessor.Options{Functions: reg},
			rule("a", 10, "x > 0", map[string]any{"y": 1}),
			rule("b", 5, "lookup(x) > 0", map[string]any{"w": 1}),
			rule("c", 5, "y == 1", map[string]any{"z": "{{ x * 2 }}"}),
		)
	}
	healthy := build(func(args []value.Value) (value.Value, error) { return value.Int(1), nil })
	panicking := build(func(args []value.Value) (value.Value, error) { panic("backend unavailable") })
	failing := build(func(args []value.Value) (value.Value, error) { return value.Absent(), errors.New("timeout") })

	e := newEngine(t, Options{Workers: 3})
	input := map[string]any{"x": 4}

	base, err := e.Run(context.Background(), healthy, input)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, base.Fired)

	for name, p := range map[string]*plan.Plan{"panic": panicking, "error": failing} {
		t.Run(name, func(t *testing.T) {
			res, err := e.Run(context.Background(), p, input)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "c"}, res.Fired)
			assert.Equal(t, map[string]any{"y": int64(1), "z": int64(8)}, res.Verdict.Map())
			require.Len(t, res.Errors, 1)
			assert.Equal(t, "b", res.Errors[0].RuleID)
			var fe *expression.FunctionError
			assert.True(t, errors.As(res.Errors[0].Err, &fe), "Expected *FunctionError, got %v", res.Errors[0].Err)
		})
	}
}

func TestRun_LargeIntegerArithmetic(t *testing.T) {
	p := compile(t, preprocessor.Options{},
		rule("power", 1, "1 ** n > 0", map[string]any{"a": true}),
		rule("wide", 1, "10 ** 19 > 0", map[string]any{"b": true}),
		rule("product", 1, "x * 4 > 0", map[string]any{"c": true}),
	)
	e := newEngine(t, Options{Workers: 1, Timeout: time.Second})

	start := time.Now()
	res, err := e.Run(context.Background(), p, map[string]any{"n": int64(1) << 40, "x": int64(1) << 62})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "Huge exponents must not stall a worker")
	assert.False(t, res.Truncated)
	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{"power", "product", "wide"}, res.Fired)
}

func TestRun_ActionErrorLeavesNoWrites(t *testing.T) {
	p := compile(t, preprocessor.Options{},
		rule("a", 1, "true", map[string]any{"ok": true, "ratio": "{{ total / count }}"}),
	)
	e := newEngine(t, Options{})

	res, err := e.Run(context.Background(), p, map[string]any{"total": 10, "count": 0})
	require.NoError(t, err)
	assert.Empty(t, res.Fired)
	assert.Equal(t, 0, res.Verdict.Len(), "A failing action discards the rule's other writes")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, PhaseAction, res.Errors[0].Phase)
}

func TestRun_Determinism(t *testing.T) {
	var defs []rules.Rule
	for i := 0; i < 40; i++ {
		defs = append(defs, rule(
			fmt.Sprintf("r%02d", i),
			i%4,
			fmt.Sprintf("x > %d", i%7),
			map[string]any{fmt.Sprintf("f%d", i%5): i, "last": fmt.Sprintf("r%02d", i)},
		))
	}
	for i := 0; i < 10; i++ {
		defs = append(defs, rule(
			fmt.Sprintf("s%02d", i),
			i%3,
			fmt.Sprintf("f%d != null", i%5),
			map[string]any{"summary": fmt.Sprintf("{{ f%d + %d }}", i%5, i)},
		))
	}
	p := compile(t, preprocessor.Options{ConflictPolicy: preprocessor.ConflictWarn}, defs...)
	input := map[string]any{"x": 5}

	var want []byte
	var wantFired []string
	for _, workers := range []int{1, 2, 8, 32} {
		e := newEngine(t, Options{Workers: workers})
		for i := 0; i < 20; i++ {
			res, err := e.Run(context.Background(), p, input)
			require.NoError(t, err)
			got, err := json.Marshal(res.Verdict)
			require.NoError(t, err)
			if want == nil {
				want, wantFired = got, res.Fired
				continue
			}
			assert.Equal(t, string(want), string(got), "workers=%d run=%d", workers, i)
			assert.Equal(t, wantFired, res.Fired, "workers=%d run=%d", workers, i)
		}
	}
}

func TestRun_IdempotentUnderNoOp(t *testing.T) {
	p := compile(t, preprocessor.Options{},
		rule("a", 10, "x > 5", map[string]any{"y": 1}),
		rule("b", 10, "y == 1", map[string]any{"z": 2}),
		rule("c", 1, "z == 2 and x > 8", map[string]any{"label": "{{ x }}-high"}),
	)
	e := newEngine(t, Options{})

	first, err := e.Run(context.Background(), p, map[string]any{"x": 10})
	require.NoError(t, err)

	input := map[string]any{"x": 10}
	for k, v := range first.Verdict.Map() {
		input[k] = v
	}
	second, err := e.Run(context.Background(), p, input)
	require.NoError(t, err)
	for _, k := range second.Verdict.Keys() {
		assert.Contains(t, first.Verdict.Keys(), k)
	}
	assert.Equal(t, 0, second.Verdict.Len(), "Rewriting identical values changes nothing")
}

func TestRun_VerdictExcludesUnchangedInput(t *testing.T) {
	p := compile(t, preprocessor.Options{},
		rule("a", 1, "true", map[string]any{"same": 1, "changed": 2, "new": 3}),
	)
	e := newEngine(t, Options{})

	res, err := e.Run(context.Background(), p, map[string]any{"same": 1, "changed": 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"changed", "new"}, res.Verdict.Keys())
}

func TestRun_Truncation(t *testing.T) {
	p := compile(t, preprocessor.Options{},
		rule("a", 10, "x > 5", map[string]any{"y": 1}),
		rule("b", 10, "y == 1", map[string]any{"z": 2}),
	)

	t.Run("expired context", func(t *testing.T) {
		e := newEngine(t, Options{})
		ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		defer cancel()

		res, err := e.Run(ctx, p, map[string]any{"x": 10})
		require.NoError(t, err)
		assert.True(t, res.Truncated)
		assert.Equal(t, 0, res.LayersRun)
		assert.Empty(t, res.Fired)
		assert.Equal(t, 0, res.Verdict.Len())
	})

	t.Run("deadline between layers", func(t *testing.T) {
		reg := expression.NewRegistry()
		require.NoError(t, reg.RegisterUnsafe("slow", func(args []value.Value) (value.Value, error) {
			time.Sleep(50 * time.Millisecond)
			return value.Bool(true), nil
		}))
		p := compile(t, preprocessor.Options{Functions: reg},
			rule("a", 10, "slow()", map[string]any{"y": 1}),
			rule("b", 10, "y == 1", map[string]any{"z": 2}),
		)
		e := newEngine(t, Options{Timeout: 10 * time.Millisecond})

		res, err := e.Run(context.Background(), p, nil)
		require.NoError(t, err)
		assert.True(t, res.Truncated)
		assert.Equal(t, 1, res.LayersRun, "The started layer is merged in full")
		assert.Equal(t, []string{"a"}, res.Fired)
		assert.Equal(t, map[string]any{"y": int64(1)}, res.Verdict.Map())
	})
}

func TestRun_Trace(t *testing.T) {
	p := compile(t, preprocessor.Options{},
		rule("a", 10, "x > 5", map[string]any{"y": 1}),
		rule("b", 10, "y == 2", map[string]any{"z": 2}),
		rule("c", 5, "missing + 1 > 0", map[string]any{"w": 1}),
	)
	var c Collector
	e := newEngine(t, Options{Sink: &c})

	res, err := e.Run(context.Background(), p, map[string]any{"x": 10})
	require.NoError(t, err)

	events := c.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "a", events[0].RuleID)
	assert.True(t, events[0].Fired)
	assert.Equal(t, map[string]value.Value{"y": value.Int(1)}, events[0].Writes)
	assert.Equal(t, "(x > 5)", events[0].Condition)
	assert.Equal(t, "c", events[1].RuleID)
	assert.False(t, events[1].Fired)
	assert.NotEmpty(t, events[1].Error)
	assert.Equal(t, "b", events[2].RuleID)
	assert.Equal(t, 1, events[2].Layer)
	assert.False(t, events[2].Fired)
	assert.Empty(t, events[2].Error)
	for _, ev := range events {
		assert.Equal(t, res.PassID, ev.PassID)
	}

	c.Reset()
	assert.Empty(t, c.Events())
}

func TestRun_Metrics(t *testing.T) {
	p := compile(t, preprocessor.Options{},
		rule("a", 10, "x > 5", map[string]any{"y": 1}),
		rule("b", 10, "x > 5", map[string]any{"z": 1}),
		rule("c", 1, "x < 0", map[string]any{"w": 1}),
	)
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	e := newEngine(t, Options{Workers: 1, Metrics: m})

	for i := 0; i < 3; i++ {
		_, err := e.Run(context.Background(), p, map[string]any{"x": 10})
		require.NoError(t, err)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.passes.WithLabelValues("complete")))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.ruleOutcomes.WithLabelValues("fired")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ruleOutcomes.WithLabelValues("not_fired")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.cacheHits), "Shared conditions are evaluated once per pass")
	count, err := testutil.GatherAndCount(reg, "symbolica_pass_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRun_DisableCache(t *testing.T) {
	p := compile(t, preprocessor.Options{},
		rule("a", 10, "x > 5", map[string]any{"y": 1}),
		rule("b", 10, "x > 5", map[string]any{"z": 1}),
	)
	m := NewMetrics(prometheus.NewRegistry())
	e := newEngine(t, Options{DisableCache: true, Metrics: m})

	res, err := e.Run(context.Background(), p, map[string]any{"x": 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.Fired)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.cacheHits))
}

func TestRunBatch(t *testing.T) {
	p := compile(t, preprocessor.Options{},
		rule("a", 10, "x > 5", map[string]any{"y": "{{ x * 10 }}"}),
	)
	e := newEngine(t, Options{Workers: 3})

	batch := make([]map[string]any, 12)
	for i := range batch {
		batch[i] = map[string]any{"x": i}
	}
	results, err := e.RunBatch(context.Background(), p, batch)
	require.NoError(t, err)
	require.Len(t, results, len(batch))
	for i, res := range results {
		if i > 5 {
			assert.Equal(t, int64(i*10), res.Verdict.Map()["y"], "result %d", i)
		} else {
			assert.Equal(t, 0, res.Verdict.Len(), "result %d", i)
		}
	}

	batch[3] = map[string]any{"x": struct{}{}}
	_, err = e.RunBatch(context.Background(), p, batch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidFacts), "Expected ErrInvalidFacts, got %v", err)
}

func TestRun_Errors(t *testing.T) {
	p := compile(t, preprocessor.Options{}, rule("a", 1, "true", map[string]any{"y": 1}))
	e := New(Options{Workers: 1})

	_, err := e.Run(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNilPlan)

	_, err = e.Run(context.Background(), p, map[string]any{"bad": make(chan int)})
	assert.ErrorIs(t, err, ErrInvalidFacts)

	e.Close()
	e.Close()
	_, err = e.Run(context.Background(), p, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestVerdict_MarshalJSON(t *testing.T) {
	p := compile(t, preprocessor.Options{},
		rule("a", 10, "true", map[string]any{"zeta": 1}),
		rule("b", 10, "zeta == 1", map[string]any{"alpha": "x", "mid": []any{1, 2}}),
	)
	e := newEngine(t, Options{})

	res, err := e.Run(context.Background(), p, nil)
	require.NoError(t, err)
	data, err := json.Marshal(res.Verdict)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"alpha":"x","mid":[1,2]}`, string(data))
}
