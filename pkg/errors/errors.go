// Package errors defines the closed set of error types for caption
// generation. Provider-specific failures are mapped onto these types once,
// at the provider-client boundary, so the rest of the system can classify
// errors by an explicit retryable flag instead of inspecting shapes.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// Common error types as constants for consistency.
const (
	TypeValidation         = "validation_error"
	TypeAuthentication     = "authentication_error"
	TypeRateLimit          = "rate_limit_error"
	TypeInvalidRequest     = "invalid_request_error"
	TypeNotFound           = "not_found_error"
	TypeTimeout            = "timeout_error"
	TypeServiceUnavailable = "service_unavailable_error"
	TypeModelFailure       = "model_failure"
	TypeContentPolicy      = "content_policy_violation"
	TypeParse              = "parse_error"
	TypeCanceled           = "canceled_error"
	TypeInternal           = "internal_error"
)

// Error is a standardized generation error. Message is always a complete,
// user-facing sentence; internal identifiers never appear in it.
type Error struct {
	StatusCode int           `json:"status_code"`
	Message    string        `json:"message"`
	Type       string        `json:"type"`
	Provider   string        `json:"provider,omitempty"`
	Retryable  bool          `json:"-"`
	RetryAfter time.Duration `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s (provider=%s, code=%d)", e.Type, e.Message, e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// HTTPStatusCode returns the HTTP status code to surface for the error.
func (e *Error) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// NewValidationError creates a terminal input validation error (400).
func NewValidationError(message string) *Error {
	return &Error{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Type:       TypeValidation,
		Retryable:  false,
	}
}

// NewAuthenticationError creates an authentication error (401).
func NewAuthenticationError(provider, message string) *Error {
	return &Error{
		StatusCode: http.StatusUnauthorized,
		Message:    message,
		Type:       TypeAuthentication,
		Provider:   provider,
		Retryable:  false,
	}
}

// NewRateLimitError creates a rate limit error (429).
func NewRateLimitError(provider, message string) *Error {
	return &Error{
		StatusCode: http.StatusTooManyRequests,
		Message:    message,
		Type:       TypeRateLimit,
		Provider:   provider,
		Retryable:  true,
	}
}

// NewInvalidRequestError creates an invalid request error (400).
func NewInvalidRequestError(provider, message string) *Error {
	return &Error{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Type:       TypeInvalidRequest,
		Provider:   provider,
		Retryable:  false,
	}
}

// NewNotFoundError creates a not found error (404).
func NewNotFoundError(provider, message string) *Error {
	return &Error{
		StatusCode: http.StatusNotFound,
		Message:    message,
		Type:       TypeNotFound,
		Provider:   provider,
		Retryable:  false,
	}
}

// NewTimeoutError creates a timeout error (408).
func NewTimeoutError(provider, message string) *Error {
	return &Error{
		StatusCode: http.StatusRequestTimeout,
		Message:    message,
		Type:       TypeTimeout,
		Provider:   provider,
		Retryable:  true,
	}
}

// NewServiceUnavailableError creates a service unavailable error (503).
func NewServiceUnavailableError(provider, message string) *Error {
	return &Error{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Type:       TypeServiceUnavailable,
		Provider:   provider,
		Retryable:  true,
	}
}

// NewModelFailureError creates a terminal model failure error. The provider
// ran the job and reported it failed, so retrying the same input is futile.
func NewModelFailureError(provider, message string) *Error {
	return &Error{
		StatusCode: http.StatusBadGateway,
		Message:    message,
		Type:       TypeModelFailure,
		Provider:   provider,
		Retryable:  false,
	}
}

// NewContentPolicyError creates a content policy violation error (400).
func NewContentPolicyError(provider, message string) *Error {
	return &Error{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Type:       TypeContentPolicy,
		Provider:   provider,
		Retryable:  false,
	}
}

// NewParseError creates a terminal response parse error.
func NewParseError(provider, message string) *Error {
	return &Error{
		StatusCode: http.StatusBadGateway,
		Message:    message,
		Type:       TypeParse,
		Provider:   provider,
		Retryable:  false,
	}
}

// NewCanceledError creates a terminal cancellation error.
func NewCanceledError(message string) *Error {
	return &Error{
		StatusCode: http.StatusRequestTimeout,
		Message:    message,
		Type:       TypeCanceled,
		Retryable:  false,
	}
}

// NewInternalError creates an internal error (500).
func NewInternalError(provider, message string) *Error {
	return &Error{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
		Type:       TypeInternal,
		Provider:   provider,
		Retryable:  false,
	}
}

// As extracts a *Error from err's chain, if present.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable reports whether err is explicitly marked retryable.
// Errors outside the closed set are never retryable here; transport-level
// classification happens in the resilience package.
func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable
	}
	return false
}

// IsContentPolicy reports whether err is a content policy violation.
func IsContentPolicy(err error) bool {
	e, ok := As(err)
	return ok && e.Type == TypeContentPolicy
}

// IsCanceled reports whether err represents a canceled operation.
func IsCanceled(err error) bool {
	e, ok := As(err)
	return ok && e.Type == TypeCanceled
}
