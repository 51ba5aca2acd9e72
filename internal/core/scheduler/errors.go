package scheduler

import (
	"errors"
	"fmt"

	"service-sopm/internal/core/functions"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrFunctionNotFound is the registry's not-found error, re-exported for
	// callers of SubmitUserFunction.
	ErrFunctionNotFound = functions.ErrNotFound
	// ErrInvalidTransition means a status update found the row outside the
	// status it must leave from, e.g. a terminal job.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// ValidationError is a malformed submission.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// NotReadyError rejects a user function job whose target is not built yet.
type NotReadyError struct {
	FunctionID string
	Status     functions.Status
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("function not ready. Status: %s", e.Status)
}
