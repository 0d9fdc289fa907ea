package preprocessor

import (
	"fmt"
	"strings"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/plan"
)

// GraphError reports a structural problem in the rule set: duplicate or
// empty ids and unknown trigger targets.
type GraphError struct {
	RuleID string
	Msg    string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("rule '%s': %s", e.RuleID, e.Msg)
}

// RuleError wraps a failure to compile one rule.
type RuleError struct {
	RuleID string
	Err    error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule '%s': %v", e.RuleID, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

// ConflictError reports a same-priority write conflict under the fail
// policy.
type ConflictError struct {
	Conflict plan.Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("field '%s' is written by rules %s with equal priority %d",
		e.Conflict.Field, strings.Join(e.Conflict.Rules, ", "), e.Conflict.Priority)
}

// CompileError aggregates every error found while compiling a rule set.
type CompileError struct {
	Errors []error
}

func (e *CompileError) Error() string {
	if len(e.Errors) == 1 {
		return "compile failed: " + e.Errors[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "compile failed with %d errors:", len(e.Errors))
	for _, err := range e.Errors {
		sb.WriteString("\n  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

func (e *CompileError) Unwrap() []error { return e.Errors }
