package task

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("task not found")
	ErrAlreadyExists = errors.New("task already exists")
	// ErrTerminal is returned by Store.Update when the stored task has
	// already reached a terminal status.
	ErrTerminal     = errors.New("task is in a terminal state")
	ErrInvalidState = errors.New("invalid task state")
	ErrTimeout      = errors.New("conversion timed out")
	ErrQueueFull    = errors.New("task queue is full")
	ErrQueueClosed  = errors.New("task queue is closed")

	// ErrArtifactMissing means a completed task's result file is gone. It is
	// always reported together with ErrNotFound.
	ErrArtifactMissing = errors.New("converted file not found")
)

// ValidationError rejects a submission before any task exists.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func validationErr(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConversionError is a converter failure. Its cause ends up as the task's
// error message.
type ConversionError struct {
	Format Format
	Cause  error
}

func (e *ConversionError) Error() string {
	if e.Format == "" {
		return e.Cause.Error()
	}
	return fmt.Sprintf("%s conversion failed: %v", e.Format, e.Cause)
}

func (e *ConversionError) Unwrap() error { return e.Cause }

// NewConversionError wraps cause for format.
func NewConversionError(format Format, cause error) *ConversionError {
	return &ConversionError{Format: format, Cause: cause}
}

// invalidState wraps ErrInvalidState with a client-facing message.
func invalidState(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}
