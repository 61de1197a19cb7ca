// Package apperr defines the error taxonomy shared by every layer of the
// memory service. Errors carry a stable Code plus a context map so callers
// at the boundary can render a consistent {error, code, context} shape
// without re-deriving it from error strings.
package apperr

import (
	"errors"
	"fmt"
)

// Code is a stable error classification. The boundary maps Code to
// transport-specific status (HTTP status, JSON field) and decides retry
// eligibility.
type Code string

const (
	CodeValidation         Code = "VALIDATION"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeFileLocked         Code = "FILE_LOCKED"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeMissingAction      Code = "MISSING_ACTION"
	CodeInvalidAction      Code = "INVALID_ACTION"
	CodeInvalidActionType  Code = "INVALID_ACTION_TYPE"
	CodeUnsupportedMedia   Code = "UNSUPPORTED_MEDIA_TYPE"
	CodeSizeLimitExceeded  Code = "SIZE_LIMIT_EXCEEDED"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeCircuitOpen        Code = "CIRCUIT_BREAKER_OPEN"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeTimeout            Code = "TIMEOUT"
	CodeRetryExhausted     Code = "RETRY_EXHAUSTED"
	CodeNetworkError       Code = "NETWORK_ERROR"
	CodeEmbeddingError     Code = "EMBEDDING_ERROR"
	CodeEmbeddingUnavail   Code = "EMBEDDING_UNAVAILABLE"
	CodeVectorError        Code = "VECTOR_ERROR"
	CodeDatabaseError      Code = "DATABASE_ERROR"
	CodeMigrationError     Code = "MIGRATION_ERROR"
	CodeExtractionFailed   Code = "EXTRACTION_FAILED"
	CodeExtractionUnavail  Code = "EXTRACTION_UNAVAILABLE"
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeUnknown            Code = "UNKNOWN_ERROR"
)

// transient lists codes the retry envelope is allowed to retry.
var transient = map[Code]bool{
	CodeNetworkError:       true,
	CodeTimeout:            true,
	CodeServiceUnavailable: true,
}

// IsTransient reports whether err (or its wrapped Error) carries a code
// eligible for bounded retry inside the circuit-breaker envelope.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return transient[e.Code]
	}
	return false
}

// Error is the canonical application error shape.
type Error struct {
	Code    Code
	Message string
	Context map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// CodeOf extracts the Code from err, defaulting to CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// New starts a fluent builder for an Error of the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Context: map[string]any{}}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a cause to an existing Error without losing the chain.
func (e *Error) Wrap(cause error) *Error {
	e.cause = cause
	return e
}

// With sets an arbitrary context key.
func (e *Error) With(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// WithField records the offending input field.
func (e *Error) WithField(field string) *Error { return e.With("field", field) }

// WithResource records the resource kind involved (e.g. "guideline").
func (e *Error) WithResource(resource string) *Error { return e.With("resource", resource) }

// WithIdentifier records the identity that was looked up / conflicted.
func (e *Error) WithIdentifier(id string) *Error { return e.With("identifier", id) }

// WithSuggestion attaches actionable remediation text.
func (e *Error) WithSuggestion(s string) *Error { return e.With("suggestion", s) }

// WithValidActions records the allowed action set for MISSING_ACTION /
// INVALID_ACTION responses.
func (e *Error) WithValidActions(actions []string) *Error { return e.With("validActions", actions) }

// Convenience constructors for the most common kinds.

func NotFound(resource, identifier string) *Error {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithResource(resource).WithIdentifier(identifier)
}

func Validation(field, message string) *Error {
	return New(CodeValidation, message).WithField(field)
}

func Conflict(resource, identifier, reason string) *Error {
	return New(CodeConflict, reason).WithResource(resource).WithIdentifier(identifier)
}

func PermissionDenied(reason string) *Error {
	return New(CodePermissionDenied, reason)
}
