package errors

import (
	"fmt"
	"net/http"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeInternal            ErrorType = "internal"
	ErrorTypeBadRequest          ErrorType = "bad_request"
	ErrorTypeRequestTooLarge     ErrorType = "request_too_large"
	ErrorTypeDuplicateInstance   ErrorType = "duplicate_instance"
	ErrorTypeUnknownService      ErrorType = "unknown_service"
	ErrorTypeUnauthorized        ErrorType = "unauthorized"
	ErrorTypeNoHealthyInstance   ErrorType = "no_healthy_instance"
	ErrorTypeServiceUnavailable  ErrorType = "service_unavailable"
	ErrorTypeUpstreamUnreachable ErrorType = "upstream_unreachable"
	ErrorTypeUpstreamTimeout     ErrorType = "upstream_timeout"
	ErrorTypeRateLimited         ErrorType = "rate_limited"
)

// Sentinel values usable with errors.Is; matching is by Type only.
var (
	ErrDuplicateInstance   = &Error{Type: ErrorTypeDuplicateInstance}
	ErrUnknownService      = &Error{Type: ErrorTypeUnknownService}
	ErrUnauthorized        = &Error{Type: ErrorTypeUnauthorized}
	ErrNoHealthyInstance   = &Error{Type: ErrorTypeNoHealthyInstance}
	ErrServiceUnavailable  = &Error{Type: ErrorTypeServiceUnavailable}
	ErrUpstreamUnreachable = &Error{Type: ErrorTypeUpstreamUnreachable}
	ErrUpstreamTimeout     = &Error{Type: ErrorTypeUpstreamTimeout}
	ErrRequestTooLarge     = &Error{Type: ErrorTypeRequestTooLarge}
)

// Error represents a structured error with additional context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]any
}

// NewError creates a new structured error
func NewError(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Details: make(map[string]any),
	}
}

// WithCause adds the underlying cause to the error
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// HTTPStatusCode returns the appropriate HTTP status code for the error type
func (e *Error) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeBadRequest:
		return http.StatusBadRequest
	case ErrorTypeRequestTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case ErrorTypeUnknownService:
		return http.StatusNotFound
	case ErrorTypeDuplicateInstance:
		return http.StatusConflict
	case ErrorTypeRateLimited:
		return http.StatusTooManyRequests
	case ErrorTypeUpstreamUnreachable:
		return http.StatusBadGateway
	case ErrorTypeNoHealthyInstance, ErrorTypeServiceUnavailable:
		return http.StatusServiceUnavailable
	case ErrorTypeUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the stable public error code written to clients in
// {"error": code} bodies.
func (e *Error) Code() string {
	switch e.Type {
	case ErrorTypeBadRequest:
		return "BadRequest"
	case ErrorTypeRequestTooLarge:
		return "RequestTooLarge"
	case ErrorTypeDuplicateInstance:
		return "DuplicateInstance"
	case ErrorTypeUnknownService:
		return "UnknownService"
	case ErrorTypeUnauthorized:
		return "Unauthorized"
	case ErrorTypeNoHealthyInstance, ErrorTypeServiceUnavailable:
		return "ServiceUnavailable"
	case ErrorTypeUpstreamUnreachable, ErrorTypeUpstreamTimeout:
		return "UpstreamUnreachable"
	case ErrorTypeRateLimited:
		return "RateLimited"
	default:
		return "InternalError"
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
