// Package errors defines the error taxonomy surfaced by the engine and the
// HTTP status each kind maps to.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind sentinels. Every ServiceError unwraps to exactly one of them.
var (
	ErrValidation       = stderrors.New("validation error")
	ErrNotFound         = stderrors.New("not found")
	ErrConflict         = stderrors.New("conflict")
	ErrForbidden        = stderrors.New("forbidden")
	ErrCapacityExceeded = stderrors.New("capacity exceeded")
	ErrInternal         = stderrors.New("internal failure")
	ErrUnauthorized     = stderrors.New("unauthorized")
	ErrRateLimited      = stderrors.New("rate limited")
)

// ServiceError is the structured error returned across package boundaries.
type ServiceError struct {
	Kind       error
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *ServiceError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// WithDetails attaches a key/value pair rendered in API responses.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func newError(kind error, code string, status int, message string, cause error) *ServiceError {
	return &ServiceError{Kind: kind, Code: code, Message: message, HTTPStatus: status, Err: cause}
}

// Validation reports malformed or out-of-range input.
func Validation(field, reason string) *ServiceError {
	return newError(ErrValidation, "VALIDATION_ERROR", http.StatusBadRequest, fmt.Sprintf("%s: %s", field, reason), nil).
		WithDetails("field", field)
}

// NotFound reports a missing entity.
func NotFound(resource, id string) *ServiceError {
	msg := resource + " not found"
	if id != "" {
		msg = fmt.Sprintf("%s %q not found", resource, id)
	}
	return newError(ErrNotFound, "NOT_FOUND", http.StatusNotFound, msg, nil)
}

// Conflict reports a state that forbids the requested transition.
func Conflict(message string) *ServiceError {
	return newError(ErrConflict, "CONFLICT", http.StatusConflict, message, nil)
}

// Forbidden reports an ownership mismatch.
func Forbidden(message string) *ServiceError {
	return newError(ErrForbidden, "FORBIDDEN", http.StatusForbidden, message, nil)
}

// CapacityExceeded reports that an actor reached its concurrent-holding limit.
func CapacityExceeded(limit int) *ServiceError {
	return newError(ErrCapacityExceeded, "CAPACITY_EXCEEDED", http.StatusUnprocessableEntity,
		fmt.Sprintf("active lead limit of %d reached", limit), nil).WithDetails("limit", limit)
}

// Internal wraps a store, gateway or other infrastructure fault.
func Internal(message string, cause error) *ServiceError {
	return newError(ErrInternal, "INTERNAL_ERROR", http.StatusInternalServerError, message, cause)
}

// Unauthorized reports a missing or invalid credential.
func Unauthorized(message string) *ServiceError {
	return newError(ErrUnauthorized, "UNAUTHORIZED", http.StatusUnauthorized, message, nil)
}

// RateLimitExceeded reports a throttled caller.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(ErrRateLimited, "RATE_LIMITED", http.StatusTooManyRequests,
		fmt.Sprintf("rate limit of %d per %s exceeded", limit, window), nil)
}

// GetServiceError extracts a ServiceError from err's chain.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// HTTPStatus returns the response status for err, defaulting to 500.
func HTTPStatus(err error) int {
	if se := GetServiceError(err); se != nil {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}

func IsNotFound(err error) bool         { return stderrors.Is(err, ErrNotFound) }
func IsConflict(err error) bool         { return stderrors.Is(err, ErrConflict) }
func IsForbidden(err error) bool        { return stderrors.Is(err, ErrForbidden) }
func IsValidation(err error) bool       { return stderrors.Is(err, ErrValidation) }
func IsCapacityExceeded(err error) bool { return stderrors.Is(err, ErrCapacityExceeded) }
func IsInternal(err error) bool         { return stderrors.Is(err, ErrInternal) }
