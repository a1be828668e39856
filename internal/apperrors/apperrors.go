package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a stable, caller-visible error category.
type Code string

// Error codes exposed to callers.
const (
	// CodeValidation indicates malformed caller input.
	CodeValidation Code = "VALIDATION_ERROR"
	// CodeUnauthorized indicates a missing or invalid credential.
	CodeUnauthorized Code = "UNAUTHORIZED"
	// CodeForbidden indicates a failed ownership or role check.
	CodeForbidden Code = "FORBIDDEN"
	// CodeNotFound indicates a referenced record does not exist.
	CodeNotFound Code = "NOT_FOUND"
	// CodeAlreadyAnswered indicates a quiz state-machine violation.
	CodeAlreadyAnswered Code = "ALREADY_ANSWERED"
	// CodeConfig indicates missing provider credentials or broken configuration.
	CodeConfig Code = "CONFIG_ERROR"
	// CodeInternal indicates an unexpected storage or provider fault.
	CodeInternal Code = "INTERNAL_ERROR"
)

// Error is a typed rejection returned to callers.
type Error struct {
	Code    Code   // Stable error code.
	Message string // Human-readable detail, safe for callers.
	Err     error  // Wrapped cause, not exposed to end users.
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New constructs an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an Error wrapping an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Validation constructs a VALIDATION_ERROR.
func Validation(message string) *Error { return New(CodeValidation, message) }

// NotFound constructs a NOT_FOUND error.
func NotFound(message string) *Error { return New(CodeNotFound, message) }

// Forbidden constructs a FORBIDDEN error.
func Forbidden(message string) *Error { return New(CodeForbidden, message) }

// AlreadyAnswered constructs an ALREADY_ANSWERED error.
func AlreadyAnswered(message string) *Error { return New(CodeAlreadyAnswered, message) }

// Internal wraps an unexpected fault as INTERNAL_ERROR.
func Internal(err error) *Error {
	return Wrap(CodeInternal, "internal error", err)
}

// CodeOf extracts the error code from err, defaulting to INTERNAL_ERROR.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error code to an HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyAnswered:
		return http.StatusConflict
	case CodeConfig:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
