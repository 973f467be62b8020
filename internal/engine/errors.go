package engine

import (
	"fmt"
	"strings"
)

// InvalidTransitionError names both ends of a rejected status change.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid pay run status transition %s -> %s", e.From, e.To)
}

// NotEditableError rejects item mutations against a non-Draft run.
type NotEditableError struct {
	Status string
}

func (e NotEditableError) Error() string {
	return fmt.Sprintf("pay run is %s; items can only change while the run is Draft", e.Status)
}

// ValidationError aggregates every problem the validator found.
type ValidationError struct {
	Errors []string
}

func (e ValidationError) Error() string {
	return "pay run validation failed: " + strings.Join(e.Errors, "; ")
}
