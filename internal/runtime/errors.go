package runtime

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Run after Close.
	ErrClosed = errors.New("engine is closed")
	// ErrNilPlan is returned when Run is given no plan.
	ErrNilPlan = errors.New("nil execution plan")
	// ErrInvalidFacts wraps input facts that cannot be converted to values.
	ErrInvalidFacts = errors.New("invalid input facts")
)

// Phase names the step of rule evaluation that failed.
type Phase string

const (
	PhaseCondition Phase = "condition"
	PhaseAction    Phase = "action"
)

// RuleError is a failure isolated to one rule in one pass. It is reported
// on the Result and never returned as the pass error.
type RuleError struct {
	RuleID string
	Layer  int
	Phase  Phase
	Err    error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule '%s' %s (layer %d): %v", e.RuleID, e.Phase, e.Layer, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }
