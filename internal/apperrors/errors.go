// Package apperrors classifies service errors and maps them to HTTP
// status codes. Callers wrap failures in one of the constructors and
// classify with errors.Is against the sentinels.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinels, one per error class.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrUpstream   = errors.New("upstream error")
	ErrInternal   = errors.New("internal error")
)

// Error carries a classified error with request context.
type Error struct {
	Sentinel error  // class, matched by errors.Is
	Message  string
	Field    string // offending field for validation errors
	Resource string // resource kind for not-found and conflict
	Op       string // failing operation, such as "store.update"
	Cause    error
}

func (e *Error) Error() string { return e.Message }

// Unwrap exposes the sentinel so errors.Is sees the class.
func (e *Error) Unwrap() error { return e.Sentinel }

// Validation flags a bad request field.
func Validation(field, message string) error {
	return &Error{Sentinel: ErrValidation, Message: message, Field: field}
}

// NotFound flags a missing resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict flags a request that contradicts the resource's current
// state, such as fetching results before a job finishes.
func Conflict(resource, id, reason string) error {
	return &Error{Sentinel: ErrConflict, Message: reason, Resource: resource}
}

// Upstream flags a failing collaborator, such as the model service.
func Upstream(op string, cause error) error {
	return &Error{
		Sentinel: ErrUpstream,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Internal flags a failure inside the service itself, such as the
// record store.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
