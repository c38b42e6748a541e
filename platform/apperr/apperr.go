// Package apperr provides standardized domain error types for the application.
// Domain services and the backend RPC client return these typed errors, and the
// HTTP layer maps them to status codes. Control flow branches on Kind, never on
// the message text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind represents the category of error.
type Kind int

const (
	// KindUnknown is the default error kind when none is specified.
	KindUnknown Kind = iota
	// KindNotFound indicates a resource was not found.
	KindNotFound
	// KindValidation indicates invalid input data. Never retried.
	KindValidation
	// KindConflict indicates a conflict with existing state (e.g., duplicate).
	KindConflict
	// KindForbidden indicates the action is not allowed for the user.
	KindForbidden
	// KindUnauthorized indicates authentication is required or failed.
	KindUnauthorized
	// KindBadRequest indicates a malformed or invalid request.
	KindBadRequest
	// KindInternal indicates an unexpected internal error.
	KindInternal
	// KindGone indicates a resource that existed but is no longer available.
	KindGone
	// KindLeaseConflict indicates another actor holds the update lease of a target.
	KindLeaseConflict
	// KindTransient indicates a network, timeout or 5xx failure that may succeed on retry.
	KindTransient
	// KindAuthExpired indicates the caller must re-authenticate. Never retried.
	KindAuthExpired
	// KindFatal indicates a schema or contract violation by the backend.
	KindFatal
)

// Stable machine codes carried in error response bodies.
const (
	CodeLeaseConflict = "LEASE_CONFLICT"
	CodeAuthExpired   = "AUTH_EXPIRED"
	CodeTransient     = "TRANSIENT"
	CodeValidation    = "VALIDATION"
	CodeNotFound      = "NOT_FOUND"
	CodeFatal         = "FATAL_BACKEND"
)

// Error is a domain error with a typed Kind for HTTP mapping.
type Error struct {
	Kind    Kind
	Message string
	Op      string      // Operation that failed (optional)
	Err     error       // Underlying error (optional)
	Details interface{} // Additional details for response (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the appropriate HTTP status code for this error kind.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation, KindBadRequest:
		return http.StatusBadRequest
	case KindConflict, KindLeaseConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthorized, KindAuthExpired:
		return http.StatusUnauthorized
	case KindInternal:
		return http.StatusInternalServerError
	case KindGone:
		return http.StatusGone
	case KindTransient:
		return http.StatusServiceUnavailable
	case KindFatal:
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

// Code returns the machine readable code for this error kind.
func (e *Error) Code() string {
	switch e.Kind {
	case KindLeaseConflict:
		return CodeLeaseConflict
	case KindAuthExpired:
		return CodeAuthExpired
	case KindTransient:
		return CodeTransient
	case KindValidation, KindBadRequest:
		return CodeValidation
	case KindNotFound:
		return CodeNotFound
	case KindFatal:
		return CodeFatal
	default:
		return ""
	}
}

// New creates a new domain error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a new domain error wrapping an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithOp returns a copy of the error with the operation set.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// Convenience constructors for common error types.

// NotFound creates a not found error.
func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

// Validation creates a validation error.
func Validation(message string) *Error {
	return New(KindValidation, message)
}

// Conflict creates a conflict error (e.g., duplicate resource).
func Conflict(message string) *Error {
	return New(KindConflict, message)
}

// Forbidden creates a forbidden error.
func Forbidden(message string) *Error {
	return New(KindForbidden, message)
}

// Unauthorized creates an unauthorized error.
func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message)
}

// BadRequest creates a bad request error.
func BadRequest(message string) *Error {
	return New(KindBadRequest, message)
}

// Internal creates an internal server error.
func Internal(message string) *Error {
	return New(KindInternal, message)
}

// Gone creates a gone error (resource expired/removed).
func Gone(message string) *Error {
	return New(KindGone, message)
}

// LeaseConflict creates a lease conflict error.
func LeaseConflict(message string) *Error {
	return New(KindLeaseConflict, message)
}

// Transient creates a retryable transport error.
func Transient(message string, err error) *Error {
	return Wrap(KindTransient, message, err)
}

// AuthExpired creates an error signalling that the session must be renewed.
func AuthExpired(message string) *Error {
	return New(KindAuthExpired, message)
}

// Fatal creates a backend contract violation error.
func Fatal(message string, err error) *Error {
	return Wrap(KindFatal, message, err)
}

// GetKind extracts the error kind from an error, looking through wrapping.
// Returns KindUnknown if the chain holds no *Error.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is checks if err is an *Error with the given kind.
func Is(err error, kind Kind) bool {
	return GetKind(err) == kind
}

// Retryable reports whether err may succeed when attempted again.
func Retryable(err error) bool {
	return GetKind(err) == KindTransient
}

// UserMessage returns a message that is safe and actionable for an end user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch GetKind(err) {
	case KindLeaseConflict:
		return "Another admin is updating this order. Try again shortly."
	case KindTransient:
		return "The service is temporarily unavailable. Please try again."
	case KindAuthExpired, KindUnauthorized:
		return "Your session has expired. Please sign in again."
	case KindFatal, KindInternal, KindUnknown:
		return "Something went wrong on our side. Please contact support if this persists."
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
