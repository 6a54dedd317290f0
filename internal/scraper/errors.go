package scraper

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by stores and the orchestrator.
var (
	// ErrNotFound means no job exists with the given id.
	ErrNotFound = errors.New("job not found")
	// ErrConflict means the requested transition is not allowed from
	// the job's current state.
	ErrConflict = errors.New("job state conflict")
	// ErrCapacity means the orchestrator is at its concurrent-job cap.
	ErrCapacity = errors.New("job capacity exceeded")
)

// ValidationError describes a rejected submission. The job is never
// created when one of these is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// SourceError is a failure from the external source. Transient errors
// are retried by the orchestrator's retry policy; fatal ones fail the
// job immediately.
type SourceError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *SourceError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s source error: %v", e.Op, kind, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// TransientSourceError wraps err as retryable.
func TransientSourceError(op string, err error) *SourceError {
	return &SourceError{Op: op, Transient: true, Err: err}
}

// FatalSourceError wraps err as non-retryable.
func FatalSourceError(op string, err error) *SourceError {
	return &SourceError{Op: op, Transient: false, Err: err}
}

// IsTransient reports whether err is a transient source error.
func IsTransient(err error) bool {
	var se *SourceError
	return errors.As(err, &se) && se.Transient
}
