package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodePrecondition       = "PRECONDITION_FAILED"
	ErrCodeCompile            = "COMPILE_ERROR"
	ErrCodeExecution          = "EXECUTION_ERROR"
	ErrCodeStore              = "STORE_ERROR"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeSyncFailed         = "SYNC_FAILED"
	ErrCodeTimeout            = "TIMEOUT_ERROR"
	ErrCodeActionUnavailable  = "ACTION_UNAVAILABLE"
	ErrCodeUnsupportedOperand = "UNSUPPORTED_OPERAND"
	ErrCodeUnavailable        = "UNAVAILABLE"
)

// AutoflowError is the structured error type for all engine operations.
type AutoflowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *AutoflowError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AutoflowError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the failure is worth another attempt.
// Store, timeout and unavailable-dependency failures are transient;
// everything else fails the same way again.
func (e *AutoflowError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeStore, ErrCodeTimeout, ErrCodeUnavailable:
		return true
	default:
		return false
	}
}

// NewError creates a new AutoflowError.
func NewError(code, message string) *AutoflowError {
	return &AutoflowError{Code: code, Message: message}
}

// NewErrorf creates a new AutoflowError with a formatted message.
func NewErrorf(code, format string, args ...any) *AutoflowError {
	return &AutoflowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches an underlying cause.
func (e *AutoflowError) WithCause(err error) *AutoflowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *AutoflowError) WithDetails(details map[string]any) *AutoflowError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first AutoflowError in err's chain, or "".
func CodeOf(err error) string {
	var afErr *AutoflowError
	if errors.As(err, &afErr) {
		return afErr.Code
	}
	return ""
}

// IsNotFound reports whether err carries ErrCodeNotFound.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}
