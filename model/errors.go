package model

import "fmt"

// InvariantViolation reports a broken physical or geometric invariant. It is
// always fatal to the run that observes it.
type InvariantViolation struct {
	Name   string // offending parameter or quantity
	Value  string
	Reason string
}

func (e *InvariantViolation) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invariant violation: %s: %s", e.Name, e.Reason)
	}
	return fmt.Sprintf("invariant violation: %s = %s: %s", e.Name, e.Value, e.Reason)
}
