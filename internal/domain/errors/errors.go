// Package errors provides standardized error types for the domain layer.
// Every ledger failure is a DomainError carrying a Kind so callers can handle
// validation, configuration, transient, post-commit and idempotency outcomes
// explicitly instead of inspecting messages.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a domain error by how the caller is expected to react.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindConfiguration Kind = "configuration"
	KindTransient     Kind = "transient"
	KindPostCommit    Kind = "post_commit"
	KindIdempotency   Kind = "idempotency"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindUnauthorized  Kind = "unauthorized"
	KindInternal      Kind = "internal"
)

// Standard error categories
var (
	// ErrInvalidInput indicates the request was rejected before any write
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfiguration indicates a required setting is missing or malformed
	ErrConfiguration = errors.New("configuration error")

	// ErrServiceUnavailable indicates a dependency is temporarily unavailable
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrPostCommit indicates an external leg failed after the ledger committed
	ErrPostCommit = errors.New("post-commit failure")

	// ErrIdempotent indicates the request was already applied
	ErrIdempotent = errors.New("already applied")

	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrConflict indicates a conflict with the current state
	ErrConflict = errors.New("conflict")

	// ErrUnauthorized indicates the caller is not allowed to act
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")
)

var categoryErrors = map[Kind]error{
	KindValidation:    ErrInvalidInput,
	KindConfiguration: ErrConfiguration,
	KindTransient:     ErrServiceUnavailable,
	KindPostCommit:    ErrPostCommit,
	KindIdempotency:   ErrIdempotent,
	KindNotFound:      ErrNotFound,
	KindConflict:      ErrConflict,
	KindUnauthorized:  ErrUnauthorized,
	KindInternal:      ErrInternal,
}

// DomainError represents a domain-specific error with additional context
type DomainError struct {
	Err       error
	Kind      Kind
	Code      string
	Message   string
	Details   map[string]interface{}
	Retryable bool
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches both the specific sentinel and the error's category.
func (e *DomainError) Is(target error) bool {
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	if cat, ok := categoryErrors[e.Kind]; ok {
		return cat == target
	}
	return false
}

// NewDomainError creates a new domain error
func NewDomainError(kind Kind, err error, code, message string) *DomainError {
	return &DomainError{
		Err:       err,
		Kind:      kind,
		Code:      code,
		Message:   message,
		Retryable: kind == KindTransient,
	}
}

// WithDetails adds details to the error
func (e *DomainError) WithDetails(details map[string]interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{}, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithRetryable marks the error as retryable
func (e *DomainError) WithRetryable(retryable bool) *DomainError {
	e.Retryable = retryable
	return e
}

// IsRetryable returns true if the error is retryable
func (e *DomainError) IsRetryable() bool {
	return e.Retryable
}

// KindOf classifies any error. Unknown errors are internal; context
// deadlines are transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) && domainErr.Kind != "" {
		return domainErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	for kind, cat := range categoryErrors {
		if errors.Is(err, cat) {
			return kind
		}
	}
	return KindInternal
}

// NotFoundError creates a not found error
func NotFoundError(resource string, err error) *DomainError {
	if err == nil {
		err = ErrNotFound
	}
	return &DomainError{
		Err:     err,
		Kind:    KindNotFound,
		Code:    fmt.Sprintf("%s_NOT_FOUND", resource),
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// ValidationError creates a validation error
func ValidationError(field, message string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidInput,
		Kind:    KindValidation,
		Code:    "VALIDATION_ERROR",
		Message: message,
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

// ConflictError creates a conflict error
func ConflictError(resource, reason string) *DomainError {
	return &DomainError{
		Err:     ErrConflict,
		Kind:    KindConflict,
		Code:    "CONFLICT",
		Message: fmt.Sprintf("conflict with %s: %s", resource, reason),
	}
}

// UnauthorizedError creates an unauthorized error
func UnauthorizedError(message string) *DomainError {
	return &DomainError{
		Err:     ErrUnauthorized,
		Kind:    KindUnauthorized,
		Code:    "UNAUTHORIZED",
		Message: message,
	}
}

// InternalError creates an internal error
func InternalError(message string, err error) *DomainError {
	de := &DomainError{
		Err:     ErrInternal,
		Kind:    KindInternal,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if err != nil {
		de.Details = map[string]interface{}{"cause": err.Error()}
	}
	return de
}

// TransientError wraps an infrastructure failure the caller may retry.
func TransientError(service string, err error) *DomainError {
	de := &DomainError{
		Err:       err,
		Kind:      KindTransient,
		Code:      "SERVICE_UNAVAILABLE",
		Message:   fmt.Sprintf("%s is temporarily unavailable", service),
		Retryable: true,
	}
	if err == nil {
		de.Err = ErrServiceUnavailable
	}
	return de
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidInput checks if an error is a validation error
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsConfiguration checks if an error is a configuration error
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsIdempotent checks if an error reports an already-applied request
func IsIdempotent(err error) bool {
	return errors.Is(err, ErrIdempotent)
}

// IsServiceUnavailable checks if an error is a transient error
func IsServiceUnavailable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable)
}

// GetErrorCode extracts the error code from a domain error
func GetErrorCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetErrorDetails extracts details from a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}
