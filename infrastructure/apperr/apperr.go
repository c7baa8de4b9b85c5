// Package apperr provides the unified error taxonomy used across every
// component. All mutating operations return one of these kinds rather than
// an ad-hoc error; adapters map kinds to transport codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies one of the error kinds an operation can fail with.
type Code string

const (
	// CodeValidation marks input that failed preconditions. Recoverable by the caller.
	CodeValidation Code = "VALIDATION"
	// CodeNotFound marks a referenced entity that does not exist.
	CodeNotFound Code = "NOT_FOUND"
	// CodeConflict marks a uniqueness or optimistic-concurrency clash.
	CodeConflict Code = "CONFLICT"
	// CodePrecondition marks a state machine that forbids the attempted transition.
	CodePrecondition Code = "PRECONDITION"
	// CodeInvariant marks a violation of a data-model invariant. Never retried.
	CodeInvariant Code = "INVARIANT"
	// CodeInsufficient marks a balance or capacity shortfall.
	CodeInsufficient Code = "INSUFFICIENT"
	// CodeTimeout marks a deadline exceeded. May be retried with a fresh deadline.
	CodeTimeout Code = "TIMEOUT"
	// CodeBackpressure marks a bus or store refusal due to overload. Retry with backoff.
	CodeBackpressure Code = "BACKPRESSURE"
	// CodeInternal marks a bug. Logged, surfaced opaquely to callers.
	CodeInternal Code = "INTERNAL"
)

// Error is the structured error type returned by every component operation.
type Error struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped error so errors.Is/errors.As traverse the chain.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetails attaches a field-level detail and returns the receiver for chaining.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func httpStatusFor(code Code) int {
	switch code {
	case CodeValidation, CodePrecondition:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeInvariant:
		return http.StatusInternalServerError
	case CodeInsufficient:
		return http.StatusPaymentRequired
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeBackpressure:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// New creates an Error of the given kind with the default HTTP status for that kind.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: httpStatusFor(code)}
}

// Wrap creates an Error of the given kind around an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: httpStatusFor(code), Err: err}
}

// Validation builds a CodeValidation error with field-level detail.
func Validation(field, reason string) *Error {
	return New(CodeValidation, "invalid input").WithDetails("field", field).WithDetails("reason", reason)
}

// NotFound builds a CodeNotFound error naming the missing resource.
func NotFound(resource, id string) *Error {
	return New(CodeNotFound, resource+" not found").WithDetails("resource", resource).WithDetails("id", id)
}

// Conflict builds a CodeConflict error.
func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

// Precondition builds a CodePrecondition error describing the forbidden transition.
func Precondition(message string) *Error {
	return New(CodePrecondition, message)
}

// Invariant builds a CodeInvariant error. Callers must not retry or swallow it.
func Invariant(message string) *Error {
	return New(CodeInvariant, message)
}

// Insufficient builds a CodeInsufficient error reporting the shortfall.
func Insufficient(required, available int64) *Error {
	return New(CodeInsufficient, "insufficient balance").
		WithDetails("required", required).
		WithDetails("available", available)
}

// Timeout builds a CodeTimeout error naming the operation that exceeded its deadline.
func Timeout(operation string) *Error {
	return New(CodeTimeout, "operation timed out").WithDetails("operation", operation)
}

// Backpressure builds a CodeBackpressure error naming the overloaded resource.
func Backpressure(resource string) *Error {
	return New(CodeBackpressure, "resource overloaded, retry with backoff").WithDetails("resource", resource)
}

// Internal builds a CodeInternal error wrapping the underlying bug.
func Internal(message string, err error) *Error {
	return Wrap(CodeInternal, message, err)
}

// As extracts an *Error from an error chain, if present.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is reports whether err carries the given Code anywhere in its chain.
func Is(err error, code Code) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// HTTPStatus returns the transport status code for err, defaulting to 500
// when err does not carry a structured Error.
func HTTPStatus(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
