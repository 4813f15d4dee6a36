// Package ragerrors defines the unified error taxonomy for the query
// pipeline. Every failure surfaced to a client is mapped to one of these
// types; components below the pipeline boundary return plain wrapped errors.
package ragerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a standardized pipeline error. It carries everything the HTTP
// layer needs to build a response and everything the retry logic needs to
// decide whether another attempt makes sense.
type Error struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Stage      string `json:"stage,omitempty"`
	Retryable  bool   `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("[%s] %s (stage=%s, code=%d)", e.Type, e.Message, e.Stage, e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s (code=%d)", e.Type, e.Message, e.StatusCode)
}

// HTTPStatusCode returns the HTTP status code for the error.
func (e *Error) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Error type constants. These appear verbatim in the error envelope's
// "code" field, so they are part of the public contract.
const (
	TypeValidation             = "validation_error"
	TypeRAGNotFound            = "rag_not_found"
	TypeRateLimited            = "rate_limited"
	TypeNoContext              = "no_context"
	TypeLLMUnavailable         = "llm_unavailable"
	TypeEmbeddingMisconfigured = "embedding_misconfigured"
	TypeDependencyDown         = "dependency_down"
	TypeTimeout                = "timeout_error"
	TypeOverloaded             = "overloaded"
	TypeInternal               = "internal_error"
)

// NewValidationError creates a validation error (400).
func NewValidationError(message string) *Error {
	return &Error{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Type:       TypeValidation,
		Retryable:  false,
	}
}

// NewRAGNotFoundError creates an unknown-tenant error (404).
func NewRAGNotFoundError(ragID string) *Error {
	return &Error{
		StatusCode: http.StatusNotFound,
		Message:    fmt.Sprintf("unknown rag %q", ragID),
		Type:       TypeRAGNotFound,
		Retryable:  false,
	}
}

// NewRateLimitedError creates an admission rejection (429).
func NewRateLimitedError(ragID string) *Error {
	return &Error{
		StatusCode: http.StatusTooManyRequests,
		Message:    fmt.Sprintf("rate limit exceeded for rag %q", ragID),
		Type:       TypeRateLimited,
		Retryable:  true,
	}
}

// NewEmbeddingMisconfiguredError creates a dimension/config mismatch error (500).
// Not retryable: the condition persists until an operator fixes the config.
func NewEmbeddingMisconfiguredError(message string) *Error {
	return &Error{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
		Type:       TypeEmbeddingMisconfigured,
		Retryable:  false,
	}
}

// NewDependencyDownError creates an unreachable-dependency error. The status
// is 503 when the failure is clearly a transient outage, 500 otherwise.
func NewDependencyDownError(dependency, message string, transient bool) *Error {
	status := http.StatusInternalServerError
	if transient {
		status = http.StatusServiceUnavailable
	}
	return &Error{
		StatusCode: status,
		Message:    fmt.Sprintf("%s: %s", dependency, message),
		Type:       TypeDependencyDown,
		Retryable:  transient,
	}
}

// NewTimeoutError creates a pipeline deadline error (504).
func NewTimeoutError(stage string) *Error {
	return &Error{
		StatusCode: http.StatusGatewayTimeout,
		Message:    "request deadline exceeded",
		Type:       TypeTimeout,
		Stage:      stage,
		Retryable:  true,
	}
}

// NewOverloadedError creates a shed-load error (503) for requests rejected
// by the inflight limiter.
func NewOverloadedError() *Error {
	return &Error{
		StatusCode: http.StatusServiceUnavailable,
		Message:    "server is at capacity, retry later",
		Type:       TypeOverloaded,
		Retryable:  true,
	}
}

// NewInternalError creates an internal server error (500).
func NewInternalError(message string) *Error {
	return &Error{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
		Type:       TypeInternal,
		Retryable:  false,
	}
}

// NewLLMUnavailableError marks primary and fallback model exhaustion.
// The pipeline converts it into a 200 with the configured message, so the
// status here is only used if it escapes to the generic handler path.
func NewLLMUnavailableError(message string) *Error {
	return &Error{
		StatusCode: http.StatusBadGateway,
		Message:    message,
		Type:       TypeLLMUnavailable,
		Retryable:  true,
	}
}

// As extracts an *Error from err, following wrap chains.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryableStatus reports whether an upstream HTTP status warrants a
// retry. 429 and all 5xx are retryable; every other 4xx is terminal.
func IsRetryableStatus(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500
}
