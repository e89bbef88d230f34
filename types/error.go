package types

import "fmt"

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Task and graph error codes
const (
	ErrTaskNotFound      ErrorCode = "TASK_NOT_FOUND"
	ErrTaskExists        ErrorCode = "TASK_EXISTS"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrBudgetExhausted   ErrorCode = "BUDGET_EXHAUSTED"
)

// Handoff error codes
const (
	ErrAgentNotFound     ErrorCode = "AGENT_NOT_FOUND"
	ErrHandoffValidation ErrorCode = "HANDOFF_VALIDATION"
	ErrHandoffTransfer   ErrorCode = "HANDOFF_TRANSFER"
	ErrHandoffTimeout    ErrorCode = "HANDOFF_TIMEOUT"
	ErrHandoffRejected   ErrorCode = "HANDOFF_REJECTED"
)

// Persistence error codes
const (
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrStateCorrupt     ErrorCode = "STATE_CORRUPT"
)

// Error represents a structured error with code, message, and cause.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
