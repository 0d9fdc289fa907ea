// runtime/runtime.go

// Package runtime executes compiled plans. Layers run strictly in order;
// the rules of one layer are evaluated concurrently on a long-lived worker
// pool against the fact store as of the previous layer, and their writes
// are merged on the pass goroutine in layer order.
package runtime

import (
	"context"
	"fmt"
	goruntime "runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/expression"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/plan"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/value"
)

var tracer = otel.Tracer("symbolica.runtime")

// Options configures an Engine.
type Options struct {
	// Workers bounds concurrent rule evaluations. Zero means one per CPU.
	Workers int
	// Timeout is the default pass deadline. Zero means none; a deadline on
	// the context passed to Run also applies.
	Timeout time.Duration
	// DisableCache turns off the per-pass evaluation cache.
	DisableCache bool
	Sink         TraceSink
	Metrics      *Metrics
	Logger       *zerolog.Logger
}

// Engine evaluates plans. It is safe for concurrent use and owns a worker
// pool that lives until Close.
type Engine struct {
	opts    Options
	logger  zerolog.Logger
	pool    *workerPool
	workers int
	closed  atomic.Bool
}

// New starts an Engine.
func New(opts Options) *Engine {
	workers := opts.Workers
	if workers <= 0 {
		workers = goruntime.NumCPU()
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Engine{
		opts:    opts,
		logger:  logger,
		pool:    newWorkerPool(workers),
		workers: workers,
	}
}

// Workers returns the size of the worker pool.
func (e *Engine) Workers() int { return e.workers }

// Close stops the worker pool after in-flight layers finish.
func (e *Engine) Close() {
	if e.closed.CompareAndSwap(false, true) {
		e.pool.close()
	}
}

// Result is the outcome of one reasoning pass.
type Result struct {
	PassID string
	// Verdict holds only the fields the pass added or changed.
	Verdict *Verdict
	// Fired lists the rules that fired, in execution order.
	Fired []string
	// Truncated is set when the deadline stopped the pass between layers.
	Truncated bool
	// LayersRun counts fully merged layers.
	LayersRun int
	// Errors holds isolated rule failures in execution order.
	Errors   []RuleError
	Duration time.Duration
}

type outcome struct {
	fired  bool
	writes []write
	err    *RuleError
}

// Run executes one reasoning pass of p over facts. The returned error is
// reserved for unusable inputs; rule failures are reported on the Result.
func (e *Engine) Run(ctx context.Context, p *plan.Plan, facts map[string]any) (*Result, error) {
	if p == nil {
		return nil, ErrNilPlan
	}
	if e.closed.Load() {
		return nil, ErrClosed
	}
	input := make(map[string]value.Value, len(facts))
	for k, raw := range facts {
		v, err := value.FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidFacts, k, err)
		}
		input[k] = v
	}
	return e.run(ctx, p, input)
}

// RunValues is Run for facts that are already values.
func (e *Engine) RunValues(ctx context.Context, p *plan.Plan, facts map[string]value.Value) (*Result, error) {
	if p == nil {
		return nil, ErrNilPlan
	}
	if e.closed.Load() {
		return nil, ErrClosed
	}
	return e.run(ctx, p, facts)
}

// RunBatch runs one pass per fact set concurrently. Results are in input
// order. The first pass error cancels the remaining passes.
func (e *Engine) RunBatch(ctx context.Context, p *plan.Plan, batch []map[string]any) ([]*Result, error) {
	results := make([]*Result, len(batch))
	cp := pool.New().WithMaxGoroutines(e.workers).WithContext(ctx).WithCancelOnError()
	for i, facts := range batch {
		i, facts := i, facts
		cp.Go(func(ctx context.Context) error {
			r, err := e.Run(ctx, p, facts)
			if err != nil {
				return fmt.Errorf("fact set %d: %w", i, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := cp.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) run(ctx context.Context, p *plan.Plan, input map[string]value.Value) (*Result, error) {
	start := time.Now()
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}
	res := &Result{PassID: uuid.NewString()}

	ctx, span := tracer.Start(ctx, "runtime.Pass",
		trace.WithAttributes(
			attribute.String("plan.name", p.Name),
			attribute.String("pass.id", res.PassID),
			attribute.Int("plan.rules", p.NumRules()),
			attribute.Int("plan.layers", len(p.Layers)),
		),
	)
	defer span.End()

	ev := &expression.Evaluator{Functions: p.Functions}
	if !e.opts.DisableCache {
		ev.Cache = expression.NewCache()
	}
	st := newStore(input)

	for k, layer := range p.Layers {
		if err := ctx.Err(); err != nil {
			res.Truncated = true
			span.AddEvent("truncated", trace.WithAttributes(attribute.Int("layer", k)))
			e.logger.Debug().Str("pass_id", res.PassID).Int("layer", k).Err(err).Msg("Pass truncated")
			break
		}
		if !e.runLayer(ctx, p, k, layer, st, ev, res) {
			span.SetStatus(codes.Error, ErrClosed.Error())
			return nil, ErrClosed
		}
		res.LayersRun++
	}

	res.Verdict = st.verdict()
	res.Duration = time.Since(start)
	e.record(res, ev.Cache)
	span.SetAttributes(
		attribute.Int("pass.fired", len(res.Fired)),
		attribute.Int("pass.errors", len(res.Errors)),
		attribute.Bool("pass.truncated", res.Truncated),
	)
	span.SetStatus(codes.Ok, "")
	e.logger.Debug().
		Str("pass_id", res.PassID).
		Int("fired", len(res.Fired)).
		Int("errors", len(res.Errors)).
		Int("verdict", res.Verdict.Len()).
		Bool("truncated", res.Truncated).
		Dur("duration", res.Duration).
		Msg("Pass completed")
	return res, nil
}

// runLayer evaluates one layer concurrently, then merges in layer order.
func (e *Engine) runLayer(ctx context.Context, p *plan.Plan, k int, layer []string, st *store, ev *expression.Evaluator, res *Result) bool {
	_, span := tracer.Start(ctx, "runtime.Layer",
		trace.WithAttributes(attribute.Int("layer.index", k), attribute.Int("layer.size", len(layer))),
	)
	defer span.End()

	outcomes := make([]outcome, len(layer))
	tasks := make([]func(), len(layer))
	for i, id := range layer {
		i, r := i, p.Rules[id]
		tasks[i] = func() { outcomes[i] = evalRule(r, k, st, ev) }
	}
	if !e.pool.runAll(tasks) {
		return false
	}
	if e.opts.Metrics != nil {
		e.opts.Metrics.layerSize.Observe(float64(len(layer)))
	}

	for i, id := range layer {
		r := p.Rules[id]
		o := outcomes[i]
		event := Event{PassID: res.PassID, RuleID: id, Layer: k, Fired: o.fired, Condition: r.Condition.String()}
		switch {
		case o.err != nil:
			res.Errors = append(res.Errors, *o.err)
			event.Error = o.err.Err.Error()
			e.logger.Debug().Str("rule", id).Str("phase", string(o.err.Phase)).Err(o.err.Err).Msg("Rule evaluation failed")
		case o.fired:
			res.Fired = append(res.Fired, id)
			st.apply(id, r.Priority(), k, o.writes)
			event.Writes = make(map[string]value.Value, len(o.writes))
			for _, w := range o.writes {
				event.Writes[w.field] = w.value
			}
		}
		if e.opts.Metrics != nil {
			e.opts.Metrics.ruleOutcomes.WithLabelValues(outcomeLabel(o)).Inc()
		}
		if e.opts.Sink != nil {
			e.opts.Sink.Emit(event)
		}
	}
	return true
}

// evalRule evaluates a rule's condition and, when it holds, its actions.
// Any error or panic leaves the rule unfired with no writes.
func evalRule(r *plan.Rule, layer int, facts expression.Facts, ev *expression.Evaluator) (out outcome) {
	phase := PhaseCondition
	var pc panics.Catcher
	pc.Try(func() { out = evalRuleUnsafe(r, facts, ev, &phase) })
	if rec := pc.Recovered(); rec != nil {
		out = outcome{}
		out.err = &RuleError{RuleID: r.ID(), Phase: phase, Err: rec.AsError()}
	}
	if out.err != nil {
		out.err.Layer = layer
	}
	return out
}

func evalRuleUnsafe(r *plan.Rule, facts expression.Facts, ev *expression.Evaluator, phase *Phase) outcome {
	fired, err := evalCondition(r, facts, ev)
	if err != nil {
		return outcome{err: &RuleError{RuleID: r.ID(), Phase: PhaseCondition, Err: err}}
	}
	if !fired {
		return outcome{}
	}
	*phase = PhaseAction
	writes := make([]write, 0, len(r.Writes))
	for _, field := range r.Writes {
		v, err := r.Actions[field].Eval(ev, facts)
		if err != nil {
			return outcome{err: &RuleError{RuleID: r.ID(), Phase: PhaseAction, Err: fmt.Errorf("action %q: %w", field, err)}}
		}
		writes = append(writes, write{field: field, value: v})
	}
	return outcome{fired: true, writes: writes}
}

// evalCondition memoizes whole conditions of cacheable rules, so rules that
// share a condition evaluate it once per distinct input.
func evalCondition(r *plan.Rule, facts expression.Facts, ev *expression.Evaluator) (bool, error) {
	if ev.Cache == nil || !r.Cacheable {
		return ev.EvalBool(r.Condition, facts)
	}
	key := expression.Key(r.Condition, r.ConditionReads(), facts)
	if v, ok := ev.Cache.Get(key); ok {
		return v.Truthy(), nil
	}
	ok, err := ev.EvalBool(r.Condition, facts)
	if err != nil {
		return false, err
	}
	ev.Cache.Put(key, value.Bool(ok))
	return ok, nil
}

func outcomeLabel(o outcome) string {
	switch {
	case o.err != nil:
		return "error"
	case o.fired:
		return "fired"
	}
	return "not_fired"
}

func (e *Engine) record(res *Result, cache *expression.Cache) {
	m := e.opts.Metrics
	if m == nil {
		return
	}
	if res.Truncated {
		m.passes.WithLabelValues("truncated").Inc()
	} else {
		m.passes.WithLabelValues("complete").Inc()
	}
	m.passDuration.Observe(res.Duration.Seconds())
	hits, misses := cache.Stats()
	m.cacheHits.Add(float64(hits))
	m.cacheMisses.Add(float64(misses))
}
