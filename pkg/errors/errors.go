// Package errors defines structured error types for the Relay auth service.
// Errors carry a category code, an HTTP status for the portal surface, and a
// transient-vs-permanent distinction that drives the token cleanup policy.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies an error category.
type ErrorCode string

const (
	// CodeInput marks malformed or missing request parameters (400).
	CodeInput ErrorCode = "input_error"

	// CodeAuth marks a bad or expired hand-off token (401).
	CodeAuth ErrorCode = "auth_error"

	// CodeCSRF marks a failed nonce/state validation (400).
	CodeCSRF ErrorCode = "csrf_error"

	// CodeUpstream marks a provider token exchange or resource discovery
	// failure (500). Upstream messages contain no secrets and may be shown.
	CodeUpstream ErrorCode = "upstream_error"

	// CodeStorage marks a durable store failure (500). The user-facing
	// message is generic; detail is logged only.
	CodeStorage ErrorCode = "storage_error"

	// CodeEncryption marks an envelope encryption failure (500). Presented
	// to users as a storage failure.
	CodeEncryption ErrorCode = "encryption_error"
)

// ================================================================================
// Error Type
// ================================================================================

// RelayError is a structured error with category, HTTP status, and metadata.
type RelayError struct {
	code       ErrorCode
	httpStatus int
	message    string
	cause      error
	transient  bool
	metadata   map[string]interface{}
}

// Error implements the error interface.
func (e *RelayError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error category code.
func (e *RelayError) Code() ErrorCode { return e.code }

// HTTPStatus returns the HTTP status the portal should respond with.
func (e *RelayError) HTTPStatus() int { return e.httpStatus }

// Message returns the user-presentable message.
func (e *RelayError) Message() string { return e.message }

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *RelayError) Unwrap() error { return e.cause }

// WithCause attaches an underlying error.
func (e *RelayError) WithCause(cause error) *RelayError {
	e.cause = cause
	return e
}

// WithMetadata attaches context metadata for logging.
func (e *RelayError) WithMetadata(key string, value interface{}) *RelayError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

// Metadata returns all attached metadata.
func (e *RelayError) Metadata() map[string]interface{} { return e.metadata }

// ================================================================================
// Constructors
// ================================================================================

// New creates a RelayError with an explicit code and status.
func New(code ErrorCode, httpStatus int, message string) *RelayError {
	return &RelayError{code: code, httpStatus: httpStatus, message: message}
}

// Input creates an input_error (HTTP 400).
func Input(message string) *RelayError {
	return New(CodeInput, http.StatusBadRequest, message)
}

// Inputf creates an input_error with a formatted message.
func Inputf(format string, args ...interface{}) *RelayError {
	return Input(fmt.Sprintf(format, args...))
}

// Auth creates an auth_error (HTTP 401).
func Auth(message string) *RelayError {
	return New(CodeAuth, http.StatusUnauthorized, message)
}

// CSRF creates a csrf_error (HTTP 400).
func CSRF(message string) *RelayError {
	return New(CodeCSRF, http.StatusBadRequest, message)
}

// Upstream creates an upstream_error (HTTP 500). Marked transient unless
// downgraded with Permanent.
func Upstream(message string) *RelayError {
	e := New(CodeUpstream, http.StatusInternalServerError, message)
	e.transient = true
	return e
}

// Storage creates a storage_error (HTTP 500).
func Storage(message string) *RelayError {
	e := New(CodeStorage, http.StatusInternalServerError, message)
	e.transient = true
	return e
}

// Encryption creates an encryption_error (HTTP 500).
func Encryption(message string) *RelayError {
	e := New(CodeEncryption, http.StatusInternalServerError, message)
	e.transient = true
	return e
}

// Permanent marks the error as a permanent failure. For refresh-grant
// rejections this is what distinguishes a dead token from a flaky network.
func (e *RelayError) Permanent() *RelayError {
	e.transient = false
	return e
}

// ================================================================================
// Category Predicates
// ================================================================================

// As attempts to cast an error to *RelayError.
func As(err error) (*RelayError, bool) {
	var re *RelayError
	ok := errors.As(err, &re)
	return re, ok
}

// IsTransient reports whether the error is retryable by the user. Unknown
// error types are treated as transient so they never trigger token cleanup.
func IsTransient(err error) bool {
	if re, ok := As(err); ok {
		return re.transient
	}
	return true
}

// IsAuthFailure reports whether the error indicates the stored token itself
// is invalid at the provider. This drives the delete-and-reprompt path rather
// than an infinite retry against a dead token.
func IsAuthFailure(err error) bool {
	re, ok := As(err)
	if !ok {
		return false
	}
	return re.code == CodeUpstream && !re.transient
}

// UserMessage returns the message safe to render to an end user. Storage and
// encryption failures collapse to a generic retry message; everything else in
// the taxonomy carries no secrets.
func UserMessage(err error) string {
	re, ok := As(err)
	if !ok {
		return "Internal server error. Please try again."
	}
	switch re.code {
	case CodeStorage, CodeEncryption:
		return "A temporary storage error occurred. Please try again."
	default:
		return re.message
	}
}

// HTTPStatus returns the status for any error, defaulting to 500.
func HTTPStatus(err error) int {
	if re, ok := As(err); ok {
		return re.httpStatus
	}
	return http.StatusInternalServerError
}
