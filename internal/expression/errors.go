package expression

import (
	"fmt"
)

// ParseError reports malformed expression syntax. It is fatal at compile time.
type ParseError struct {
	Expr string
	Pos  int // byte offset, -1 when unknown
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("parse error in %q at offset %d: %s", e.Expr, e.Pos, e.Msg)
	}
	return fmt.Sprintf("parse error in %q: %s", e.Expr, e.Msg)
}

// EvalError reports a runtime failure while evaluating an expression, such
// as arithmetic on an absent field.
type EvalError struct {
	Expr string
	Err  error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluating %s: %v", e.Expr, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// FunctionError reports a failing or panicking function call.
type FunctionError struct {
	Name string
	Err  error
}

func (e *FunctionError) Error() string {
	return fmt.Sprintf("function %s: %v", e.Name, e.Err)
}

func (e *FunctionError) Unwrap() error { return e.Err }
