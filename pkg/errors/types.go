// Package errors provides structured, coded errors for the execgate core.
// Callers branch on error codes rather than matching prose strings.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a class of failure within the execution core.
type ErrorCode string

const (
	// Analyzer errors
	ErrCodeParseFailed ErrorCode = "PARSE_FAILED"

	// Approval errors
	ErrCodeApprovalExpired ErrorCode = "APPROVAL_EXPIRED"
	ErrCodeApprovalUnknown ErrorCode = "APPROVAL_UNKNOWN"
	ErrCodeElevationDenied ErrorCode = "ELEVATION_DENIED"

	// Sandbox errors
	ErrCodeBoundaryViolation ErrorCode = "BOUNDARY_VIOLATION"
	ErrCodePathResolve       ErrorCode = "PATH_RESOLVE"

	// Process errors
	ErrCodeSpawnFailed     ErrorCode = "SPAWN_FAILED"
	ErrCodeExecTimeout     ErrorCode = "EXEC_TIMEOUT"
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"

	// Generic errors
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeInternal     ErrorCode = "INTERNAL"
)

// Error is a coded error with optional structured context.
type Error struct {
	Code       ErrorCode
	Message    string
	Underlying error
	Context    map[string]any
}

// New creates a new coded error.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Newf creates a new coded error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with a code and message. Returns nil if
// err is nil so it can be used unconditionally on return paths.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
		Context:    make(map[string]any),
	}
}

// With attaches a context value and returns the error for chaining.
func (e *Error) With(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// CodeOf extracts the error code from err, unwrapping as needed.
// Returns ErrCodeInternal for non-coded errors and "" for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code == code
	}
	return false
}
