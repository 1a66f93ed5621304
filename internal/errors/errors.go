// Package errors defines the service error taxonomy shared by the
// petition services and the HTTP layer.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a stable, machine readable error identifier.
type ErrorCode string

const (
	CodeValidation        ErrorCode = "VALIDATION_ERROR"
	CodeUnauthenticated   ErrorCode = "UNAUTHENTICATED"
	CodeForbidden         ErrorCode = "FORBIDDEN"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeConflict          ErrorCode = "CONFLICT"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
)

// Sentinel kinds. A ServiceError matches its kind with errors.Is.
var (
	ErrValidation        = stderrors.New("validation error")
	ErrUnauthenticated   = stderrors.New("unauthenticated")
	ErrForbidden         = stderrors.New("forbidden")
	ErrNotFound          = stderrors.New("not found")
	ErrConflict          = stderrors.New("conflict")
	ErrInternal          = stderrors.New("internal error")
	ErrRateLimitExceeded = stderrors.New("rate limit exceeded")
)

var kinds = map[ErrorCode]struct {
	sentinel error
	status   int
}{
	CodeValidation:        {ErrValidation, http.StatusBadRequest},
	CodeUnauthenticated:   {ErrUnauthenticated, http.StatusUnauthorized},
	CodeForbidden:         {ErrForbidden, http.StatusForbidden},
	CodeNotFound:          {ErrNotFound, http.StatusNotFound},
	CodeConflict:          {ErrConflict, http.StatusConflict},
	CodeInternal:          {ErrInternal, http.StatusInternalServerError},
	CodeRateLimitExceeded: {ErrRateLimitExceeded, http.StatusTooManyRequests},
}

// ServiceError carries a client-facing message plus the HTTP status it maps to.
// Err holds the underlying cause and is never rendered to clients.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *ServiceError) Is(target error) bool {
	k, ok := kinds[e.Code]
	return ok && k.sentinel == target
}

// WithDetails attaches a detail entry and returns the same error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code ErrorCode, message string, cause error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: kinds[code].status,
		Err:        cause,
	}
}

// Validation reports malformed or schema-invalid input.
func Validation(format string, args ...interface{}) *ServiceError {
	return newError(CodeValidation, fmt.Sprintf(format, args...), nil)
}

// ValidationFields reports a list of field violations.
func ValidationFields(violations []string) *ServiceError {
	err := newError(CodeValidation, "invalid request: "+strings.Join(violations, "; "), nil)
	return err.WithDetails("violations", violations)
}

// Unauthenticated reports a missing or unresolvable credential.
func Unauthenticated(message string) *ServiceError {
	return newError(CodeUnauthenticated, message, nil)
}

// Forbidden reports an authenticated caller acting on something it does not own.
func Forbidden(message string) *ServiceError {
	return newError(CodeForbidden, message, nil)
}

// NotFound reports a missing resource, e.g. `petition "7" not found`.
func NotFound(resource string, id interface{}) *ServiceError {
	return newError(CodeNotFound, fmt.Sprintf("%s %q not found", resource, fmt.Sprint(id)), nil).
		WithDetails("resource", resource)
}

// Conflict reports a uniqueness or structural rule violation.
func Conflict(message string) *ServiceError {
	return newError(CodeConflict, message, nil)
}

// Internal wraps an unexpected failure. The cause is kept for logging only.
func Internal(message string, cause error) *ServiceError {
	return newError(CodeInternal, message, cause)
}

// RateLimitExceeded reports a throttled caller.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimitExceeded, fmt.Sprintf("rate limit of %d requests per %s exceeded", limit, window), nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// GetServiceError extracts a ServiceError from an error chain.
func GetServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if stderrors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}

// Wrap converts any error into a ServiceError. Errors that already carry a
// kind are returned as-is; anything else becomes an internal error.
func Wrap(err error, op string) *ServiceError {
	if err == nil {
		return nil
	}
	if svcErr := GetServiceError(err); svcErr != nil {
		return svcErr
	}
	return Internal(op+" failed", err)
}

func IsValidation(err error) bool      { return stderrors.Is(err, ErrValidation) }
func IsUnauthenticated(err error) bool { return stderrors.Is(err, ErrUnauthenticated) }
func IsForbidden(err error) bool       { return stderrors.Is(err, ErrForbidden) }
func IsNotFound(err error) bool        { return stderrors.Is(err, ErrNotFound) }
func IsConflict(err error) bool        { return stderrors.Is(err, ErrConflict) }
func IsInternal(err error) bool        { return stderrors.Is(err, ErrInternal) }
