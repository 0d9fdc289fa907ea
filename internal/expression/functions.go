package expression

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/sourcegraph/conc/panics"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/value"
)

var (
	// ErrUnknownFunction is returned for calls to names that are not registered.
	ErrUnknownFunction = errors.New("unknown function")
	// ErrFunctionExists is returned when registering a name twice.
	ErrFunctionExists = errors.New("function already registered")
	// ErrArity is returned by builtins called with the wrong argument count.
	ErrArity = errors.New("wrong number of arguments")
)

// Func is the calling contract for builtin and custom functions. A function
// may return an error; it must not block indefinitely.
type Func func(args []value.Value) (value.Value, error)

type registered struct {
	fn      Func
	pure    bool
	builtin bool
}

// Registry maps function names to implementations. Pure functions are
// deterministic in their arguments and their results may be cached within
// a pass. Unsafe functions may have side effects or read external state and
// are never cached.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]registered
}

// NewRegistry returns a registry holding the builtin functions.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]registered, len(builtins))}
	for name, fn := range builtins {
		r.funcs[name] = registered{fn: fn, pure: true, builtin: true}
	}
	return r
}

var defaultRegistry = NewRegistry()

// RegisterPure adds a side-effect free function.
func (r *Registry) RegisterPure(name string, fn Func) error {
	return r.register(name, fn, true)
}

// RegisterUnsafe adds a function that may have side effects. Calls to it
// are never served from the evaluation cache.
func (r *Registry) RegisterUnsafe(name string, fn Func) error {
	return r.register(name, fn, false)
}

func (r *Registry) register(name string, fn Func, pure bool) error {
	if name == "" || !isIdentStart(name[0]) || strings.HasPrefix(name, fnPrefix) {
		return fmt.Errorf("invalid function name %q", name)
	}
	for i := 1; i < len(name); i++ {
		if !isIdentPart(name[i]) {
			return fmt.Errorf("invalid function name %q", name)
		}
	}
	if fn == nil {
		return fmt.Errorf("function %s: nil implementation", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.funcs[name]; ok {
		return fmt.Errorf("%w: %s", ErrFunctionExists, name)
	}
	r.funcs[name] = registered{fn: fn, pure: pure}
	return nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// IsPure reports whether name is registered as a pure function.
func (r *Registry) IsPure(name string) bool {
	f, ok := r.lookup(name)
	return ok && f.pure
}

// Names returns all registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(name string) (registered, bool) {
	if r == nil {
		r = defaultRegistry
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.funcs[name]
	return f, ok
}

// Call invokes name. Errors and panics raised by the function are returned
// as a *FunctionError.
func (r *Registry) Call(name string, args []value.Value) (value.Value, error) {
	f, ok := r.lookup(name)
	if !ok {
		return value.Absent(), &FunctionError{Name: name, Err: ErrUnknownFunction}
	}
	var (
		out value.Value
		err error
		pc  panics.Catcher
	)
	pc.Try(func() { out, err = f.fn(args) })
	if rec := pc.Recovered(); rec != nil {
		return value.Absent(), &FunctionError{Name: name, Err: rec.AsError()}
	}
	if err != nil {
		var fe *FunctionError
		if errors.As(err, &fe) {
			return value.Absent(), err
		}
		return value.Absent(), &FunctionError{Name: name, Err: err}
	}
	return out, nil
}

var builtins = map[string]Func{
	"len":        builtinLen,
	"sum":        builtinSum,
	"abs":        builtinAbs,
	"min":        func(args []value.Value) (value.Value, error) { return extremum(args, -1) },
	"max":        func(args []value.Value) (value.Value, error) { return extremum(args, 1) },
	"startswith": stringPredicate(strings.HasPrefix),
	"endswith":   stringPredicate(strings.HasSuffix),
	"contains":   builtinContains,
	"matches":    builtinMatches,
}

func arity(args []value.Value, n int) error {
	if len(args) != n {
		return fmt.Errorf("%w: want %d, got %d", ErrArity, n, len(args))
	}
	return nil
}

func builtinLen(args []value.Value) (value.Value, error) {
	if err := arity(args, 1); err != nil {
		return value.Absent(), err
	}
	n, ok := args[0].Len()
	if !ok {
		return value.Absent(), fmt.Errorf("%w: len of %s", value.ErrTypeMismatch, args[0].Kind())
	}
	return value.Int(int64(n)), nil
}

func builtinSum(args []value.Value) (value.Value, error) {
	if err := arity(args, 1); err != nil {
		return value.Absent(), err
	}
	items, ok := args[0].AsList()
	if !ok {
		return value.Absent(), fmt.Errorf("%w: sum of %s", value.ErrTypeMismatch, args[0].Kind())
	}
	total := value.Int(0)
	for _, item := range items {
		next, err := value.Arith("+", total, item)
		if err != nil || !next.IsNumeric() {
			return value.Absent(), fmt.Errorf("%w: sum over %s", value.ErrTypeMismatch, item.Kind())
		}
		total = next
	}
	return total, nil
}

func builtinAbs(args []value.Value) (value.Value, error) {
	if err := arity(args, 1); err != nil {
		return value.Absent(), err
	}
	if i, ok := args[0].AsInt(); ok && args[0].Kind() == value.KindInt {
		if i < 0 {
			return value.Int(-i), nil
		}
		return args[0], nil
	}
	if f, ok := args[0].AsFloat(); ok {
		return value.Float(math.Abs(f)), nil
	}
	return value.Absent(), fmt.Errorf("%w: abs of %s", value.ErrTypeMismatch, args[0].Kind())
}

// extremum implements min (sign -1) and max (sign 1) over either a single
// list argument or two or more arguments.
func extremum(args []value.Value, sign int) (value.Value, error) {
	items := args
	if len(args) == 1 {
		list, ok := args[0].AsList()
		if !ok {
			return value.Absent(), fmt.Errorf("%w: expected a list, got %s", value.ErrTypeMismatch, args[0].Kind())
		}
		items = list
	}
	if len(items) == 0 {
		return value.Absent(), fmt.Errorf("%w: empty sequence", ErrArity)
	}
	best := items[0]
	for _, item := range items[1:] {
		c, ok := value.Compare(item, best)
		if !ok {
			return value.Absent(), fmt.Errorf("%w: cannot order %s and %s", value.ErrTypeMismatch, item.Kind(), best.Kind())
		}
		if c*sign > 0 {
			best = item
		}
	}
	return best, nil
}

// stringPredicate wraps a string test. An absent subject yields false so
// that the call behaves like a comparison.
func stringPredicate(test func(s, affix string) bool) Func {
	return func(args []value.Value) (value.Value, error) {
		if err := arity(args, 2); err != nil {
			return value.Absent(), err
		}
		if args[0].IsAbsent() {
			return value.Bool(false), nil
		}
		s, ok1 := args[0].AsString()
		affix, ok2 := args[1].AsString()
		if !ok1 || !ok2 {
			return value.Absent(), fmt.Errorf("%w: expected strings, got %s and %s", value.ErrTypeMismatch, args[0].Kind(), args[1].Kind())
		}
		return value.Bool(test(s, affix)), nil
	}
}

func builtinContains(args []value.Value) (value.Value, error) {
	if err := arity(args, 2); err != nil {
		return value.Absent(), err
	}
	if args[0].IsAbsent() || args[1].IsAbsent() {
		return value.Bool(false), nil
	}
	found, ok := value.Contains(args[0], args[1])
	if !ok {
		return value.Absent(), fmt.Errorf("%w: %s contains %s", value.ErrTypeMismatch, args[0].Kind(), args[1].Kind())
	}
	return value.Bool(found), nil
}

var patterns sync.Map

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if re, ok := patterns.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	actual, _ := patterns.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp), nil
}

// builtinMatches reports whether the subject matches a regular expression.
func builtinMatches(args []value.Value) (value.Value, error) {
	if err := arity(args, 2); err != nil {
		return value.Absent(), err
	}
	if args[0].IsAbsent() {
		return value.Bool(false), nil
	}
	s, ok1 := args[0].AsString()
	pattern, ok2 := args[1].AsString()
	if !ok1 || !ok2 {
		return value.Absent(), fmt.Errorf("%w: expected strings, got %s and %s", value.ErrTypeMismatch, args[0].Kind(), args[1].Kind())
	}
	re, err := compilePattern(pattern)
	if err != nil {
		return value.Absent(), err
	}
	return value.Bool(re.MatchString(s)), nil
}
