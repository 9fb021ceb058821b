package flow

import (
	"errors"
	"fmt"
	"time"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeDependency     = "DEPENDENCY_ERROR"
	ErrCodeCycleDetected  = "CYCLE_DETECTED"
	ErrCodeBodyFailure    = "BODY_FAILURE"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeDeadlock       = "DEADLOCK"
	ErrCodeAborted        = "ABORTED"
	ErrCodeRetryExhausted = "RETRY_EXHAUSTED"
	ErrCodeStore          = "STORE_ERROR"
	ErrCodeExpression     = "EXPRESSION_ERROR"
)

// Error is the structured error type for all flowline operations.
// Timeout errors additionally carry the configured duration that was
// exceeded so operators can tell which deadline fired.
type Error struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Step     string         `json:"step,omitempty"`
	Duration time.Duration  `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Cause    error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.Step, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewTimeout creates a TIMEOUT error carrying the label of the timed-out
// unit of work and the deadline that was exceeded.
func NewTimeout(label string, d time.Duration) *Error {
	return &Error{
		Code:     ErrCodeTimeout,
		Message:  fmt.Sprintf("%s exceeded timeout of %s", label, d),
		Step:     label,
		Duration: d,
	}
}

// WithStep attaches a step name to the error.
func (e *Error) WithStep(step string) *Error {
	e.Step = step
	return e
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// CodeOf returns the flowline error code of err, or "" if err is not an
// *Error anywhere in its chain.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsTimeout reports whether err is a flowline timeout failure.
func IsTimeout(err error) bool {
	return CodeOf(err) == ErrCodeTimeout
}

// IsAbort reports whether err is an explicit handler-requested abort.
// Aborts bypass all remaining error handlers and terminate the execution.
func IsAbort(err error) bool {
	return CodeOf(err) == ErrCodeAborted
}

// IsDeadlock reports whether err is an execution-time deadlock. Deadlocks
// indicate a defect in graph construction and bypass handlers entirely.
func IsDeadlock(err error) bool {
	return CodeOf(err) == ErrCodeDeadlock
}
