// Package apperrors defines the coded application errors shared across
// repositories, services and handlers.
package apperrors

import (
	"errors"
	"fmt"
)

// Error codes. Handlers map these onto transport status codes; services and
// repositories never deal in HTTP semantics directly.
const (
	ErrCodeValidation   = "VALIDATION"
	ErrCodeDomainRule   = "DOMAIN_RULE"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeInternal     = "INTERNAL"
)

// Error is an application error with a stable machine-readable code.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an application error with the given code and message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// InvalidInput reports a field-level validation failure.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeValidation, Message: fmt.Sprintf("%s: %s", field, message)}
}

// DomainRule reports a business-rule rejection raised by the aggregate or
// boundary engine. These are expected outcomes, not crashes.
func DomainRule(message string) *Error {
	return &Error{Code: ErrCodeDomainRule, Message: message}
}

// Conflict reports an optimistic-concurrency version mismatch. Callers should
// re-fetch and retry with user confirmation, never merge silently.
func Conflict(message string) *Error {
	return &Error{Code: ErrCodeConflict, Message: message}
}

// Code extracts the application error code from err, or ErrCodeInternal when
// err carries no code.
func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given application error code.
func IsCode(err error, code string) bool {
	return err != nil && Code(err) == code
}
