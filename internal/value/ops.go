package value

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strings"
)

// MaxStringLen caps strings built by repetition.
const MaxStringLen = 1 << 20

var (
	// ErrTypeMismatch is returned when an operator does not accept its
	// operand kinds (including absent or null operands).
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrDivisionByZero is returned by / and % with a zero divisor.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrTooLarge is returned when a result would exceed MaxStringLen.
	ErrTooLarge = errors.New("result too large")
)

// Equal reports deep equality. Ints and floats compare by numeric value.
// Absent is not equal to anything, itself included.
func Equal(a, b Value) bool {
	if a.kind == KindAbsent || b.kind == KindAbsent {
		return false
	}
	if a.IsNumeric() && b.IsNumeric() {
		if a.kind == KindInt && b.kind == KindInt {
			return a.i == b.i
		}
		af, _ := a.AsFloat()
		bf, _ := b.AsFloat()
		return af == bf
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindString:
		return a.s == b.s
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.m) != len(b.m) {
			return false
		}
		for k, av := range a.m {
			bv, ok := b.m[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders two values. ok is false when the kinds are not mutually
// ordered (absent, null, bool vs number, and so on).
func Compare(a, b Value) (cmp int, ok bool) {
	switch {
	case a.IsNumeric() && b.IsNumeric():
		if a.kind == KindInt && b.kind == KindInt {
			return compareInts(a.i, b.i), true
		}
		af, _ := a.AsFloat()
		bf, _ := b.AsFloat()
		if math.IsNaN(af) || math.IsNaN(bf) {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	case a.kind == KindString && b.kind == KindString:
		return strings.Compare(a.s, b.s), true
	case a.kind == KindList && b.kind == KindList:
		for i := 0; i < len(a.list) && i < len(b.list); i++ {
			c, ok := Compare(a.list[i], b.list[i])
			if !ok {
				return 0, false
			}
			if c != 0 {
				return c, true
			}
		}
		return compareInts(int64(len(a.list)), int64(len(b.list))), true
	}
	return 0, false
}

func compareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Contains implements the membership test "needle in haystack": element of
// a list, key of a map, or substring of a string.
func Contains(haystack, needle Value) (bool, bool) {
	switch haystack.kind {
	case KindList:
		for _, item := range haystack.list {
			if Equal(item, needle) {
				return true, true
			}
		}
		return false, true
	case KindMap:
		key, ok := needle.AsString()
		if !ok {
			return false, true
		}
		_, found := haystack.m[key]
		return found, true
	case KindString:
		sub, ok := needle.AsString()
		if !ok {
			return false, false
		}
		return strings.Contains(haystack.s, sub), true
	}
	return false, false
}

// Arith applies a binary arithmetic operator: + - * / % or **.
func Arith(op string, a, b Value) (Value, error) {
	if op == "+" {
		switch {
		case a.kind == KindString && b.kind == KindString:
			return String(a.s + b.s), nil
		case a.kind == KindList && b.kind == KindList:
			items := make([]Value, 0, len(a.list)+len(b.list))
			items = append(items, a.list...)
			items = append(items, b.list...)
			return List(items...), nil
		}
	}
	if op == "*" {
		// "ab" * 3
		if a.kind == KindString && b.kind == KindInt {
			if b.i <= 0 || a.s == "" {
				return String(""), nil
			}
			if b.i > int64(MaxStringLen/len(a.s)) {
				return Value{}, fmt.Errorf("%w: %d x %d bytes", ErrTooLarge, b.i, len(a.s))
			}
			return String(strings.Repeat(a.s, int(b.i))), nil
		}
	}
	if !a.IsNumeric() || !b.IsNumeric() {
		return Value{}, fmt.Errorf("%w: %s %s %s", ErrTypeMismatch, a.kind, op, b.kind)
	}
	if a.kind == KindInt && b.kind == KindInt {
		return intArith(op, a.i, b.i)
	}
	af, _ := a.AsFloat()
	bf, _ := b.AsFloat()
	return floatArith(op, af, bf)
}

// intArith computes on int64 and promotes to float when the exact result
// does not fit.
func intArith(op string, a, b int64) (Value, error) {
	switch op {
	case "+":
		sum := a + b
		if (a >= 0) == (b >= 0) && (sum >= 0) != (a >= 0) {
			return Float(float64(a) + float64(b)), nil
		}
		return Int(sum), nil
	case "-":
		diff := a - b
		if (a >= 0) != (b >= 0) && (diff >= 0) != (a >= 0) {
			return Float(float64(a) - float64(b)), nil
		}
		return Int(diff), nil
	case "*":
		if p, ok := mulInt(a, b); ok {
			return Int(p), nil
		}
		return Float(float64(a) * float64(b)), nil
	case "/":
		if b == 0 {
			return Value{}, ErrDivisionByZero
		}
		return Float(float64(a) / float64(b)), nil
	case "%":
		if b == 0 {
			return Value{}, ErrDivisionByZero
		}
		// Python-style modulo: result takes the divisor's sign
		m := a % b
		if m != 0 && (m < 0) != (b < 0) {
			m += b
		}
		return Int(m), nil
	case "**":
		if b < 0 {
			return Float(math.Pow(float64(a), float64(b))), nil
		}
		if p, ok := powInt(a, b); ok {
			return Int(p), nil
		}
		return Float(math.Pow(float64(a), float64(b))), nil
	}
	return Value{}, fmt.Errorf("unknown arithmetic operator %q", op)
}

// mulInt multiplies and reports whether the product fits in an int64.
func mulInt(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	neg := (a < 0) != (b < 0)
	hi, lo := bits.Mul64(absU(a), absU(b))
	if hi != 0 {
		return 0, false
	}
	if neg {
		if lo > 1<<63 {
			return 0, false
		}
		return -int64(lo), true
	}
	if lo > math.MaxInt64 {
		return 0, false
	}
	return int64(lo), true
}

func absU(x int64) uint64 {
	if x < 0 {
		return uint64(-(x + 1)) + 1
	}
	return uint64(x)
}

// powInt raises a to a non-negative power by squaring, in at most 64 steps.
func powInt(a, b int64) (int64, bool) {
	result := int64(1)
	base := a
	for b > 0 {
		if b&1 == 1 {
			r, ok := mulInt(result, base)
			if !ok {
				return 0, false
			}
			result = r
		}
		b >>= 1
		if b == 0 {
			break
		}
		sq, ok := mulInt(base, base)
		if !ok {
			return 0, false
		}
		base = sq
	}
	return result, true
}

func floatArith(op string, a, b float64) (Value, error) {
	switch op {
	case "+":
		return Float(a + b), nil
	case "-":
		return Float(a - b), nil
	case "*":
		return Float(a * b), nil
	case "/":
		if b == 0 {
			return Value{}, ErrDivisionByZero
		}
		return Float(a / b), nil
	case "%":
		if b == 0 {
			return Value{}, ErrDivisionByZero
		}
		m := math.Mod(a, b)
		if m != 0 && (m < 0) != (b < 0) {
			m += b
		}
		return Float(m), nil
	case "**":
		return Float(math.Pow(a, b)), nil
	}
	return Value{}, fmt.Errorf("unknown arithmetic operator %q", op)
}

// Negate implements unary minus.
func Negate(v Value) (Value, error) {
	switch v.kind {
	case KindInt:
		if v.i == math.MinInt64 {
			return Float(-float64(v.i)), nil
		}
		return Int(-v.i), nil
	case KindFloat:
		return Float(-v.f), nil
	}
	return Value{}, fmt.Errorf("%w: -%s", ErrTypeMismatch, v.kind)
}
