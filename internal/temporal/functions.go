package temporal

import (
	"fmt"
	"math"
	"time"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/expression"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/value"
)

// Register installs the temporal functions on reg. They read mutable state,
// so they are registered as unsafe and never cached.
//
//	recent_avg(key, seconds)
//	recent_max(key, seconds)
//	recent_min(key, seconds)
//	recent_count(key, seconds)
//	sustained_above(key, threshold, seconds)
//	ttl_fact(key)
//
// Aggregates over an empty window return null.
func (s *Store) Register(reg *expression.Registry) error {
	funcs := map[string]expression.Func{
		"recent_avg":      s.aggregate(avg),
		"recent_max":      s.aggregate(maxOf),
		"recent_min":      s.aggregate(minOf),
		"recent_count":    s.recentCount,
		"sustained_above": s.sustainedAbove,
		"ttl_fact":        s.ttlFact,
	}
	for _, name := range []string{"recent_avg", "recent_max", "recent_min", "recent_count", "sustained_above", "ttl_fact"} {
		if err := reg.RegisterUnsafe(name, funcs[name]); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) aggregate(fn func([]float64) float64) expression.Func {
	return func(args []value.Value) (value.Value, error) {
		key, window, err := keyAndWindow(args, 2, 1)
		if err != nil {
			return value.Absent(), err
		}
		vals := s.Window(key, window)
		if len(vals) == 0 {
			return value.Null(), nil
		}
		return value.Float(fn(vals)), nil
	}
}

func (s *Store) recentCount(args []value.Value) (value.Value, error) {
	key, window, err := keyAndWindow(args, 2, 1)
	if err != nil {
		return value.Absent(), err
	}
	return value.Int(int64(len(s.Window(key, window)))), nil
}

// sustainedAbove reports whether the series has covered the whole window
// and every point in it exceeds threshold.
func (s *Store) sustainedAbove(args []value.Value) (value.Value, error) {
	key, window, err := keyAndWindow(args, 3, 2)
	if err != nil {
		return value.Absent(), err
	}
	threshold, ok := args[1].AsFloat()
	if !ok {
		return value.Absent(), fmt.Errorf("%w: threshold must be numeric", value.ErrTypeMismatch)
	}
	if s.span(key) < window {
		return value.Bool(false), nil
	}
	vals := s.Window(key, window)
	if len(vals) == 0 {
		return value.Bool(false), nil
	}
	for _, v := range vals {
		if v <= threshold {
			return value.Bool(false), nil
		}
	}
	return value.Bool(true), nil
}

func (s *Store) ttlFact(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return value.Absent(), fmt.Errorf("%w: want 1, got %d", expression.ErrArity, len(args))
	}
	key, ok := args[0].AsString()
	if !ok {
		return value.Absent(), fmt.Errorf("%w: key must be a string", value.ErrTypeMismatch)
	}
	v, _ := s.Fact(key)
	return v, nil
}

func keyAndWindow(args []value.Value, n, windowArg int) (string, time.Duration, error) {
	if len(args) != n {
		return "", 0, fmt.Errorf("%w: want %d, got %d", expression.ErrArity, n, len(args))
	}
	key, ok := args[0].AsString()
	if !ok {
		return "", 0, fmt.Errorf("%w: key must be a string", value.ErrTypeMismatch)
	}
	secs, ok := args[windowArg].AsFloat()
	if !ok || secs < 0 {
		return "", 0, fmt.Errorf("%w: window must be a non-negative number of seconds", value.ErrTypeMismatch)
	}
	return key, time.Duration(secs * float64(time.Second)), nil
}

func avg(vals []float64) float64 {
	total := 0.0
	for _, v := range vals {
		total += v
	}
	return total / float64(len(vals))
}

func maxOf(vals []float64) float64 {
	m := math.Inf(-1)
	for _, v := range vals {
		m = math.Max(m, v)
	}
	return m
}

func minOf(vals []float64) float64 {
	m := math.Inf(1)
	for _, v := range vals {
		m = math.Min(m, v)
	}
	return m
}
