package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTemplateNotFound  = errors.New("template not found")
	ErrTenantUnknown     = errors.New("tenant unknown")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrCycleDetected     = errors.New("cycle detected")
	ErrCrossTenantAccess = errors.New("cross-tenant access")
	ErrStaleState        = errors.New("stale state")
	ErrDeliveryFailed    = errors.New("delivery failed")
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
)

// CycleError reports a dependency cycle inside one workflow context. Path
// starts and ends with the same task template id.
type CycleError struct {
	Workflow string
	Path     []string
}

func (e *CycleError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s in workflow %s: %s", ErrCycleDetected, e.Workflow, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }

// TransitionError describes a rejected state change.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s: %s %s %s -> %s", ErrInvalidTransition, e.Entity, e.ID, e.From, e.To)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// IsRetryable reports whether the caller may re-read and resubmit.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStaleState)
}
