package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	tests := []struct {
		name       string
		errorType  ErrorType
		wantStatus int
		wantCode   string
	}{
		{"duplicate instance", ErrorTypeDuplicateInstance, http.StatusConflict, "DuplicateInstance"},
		{"unknown service", ErrorTypeUnknownService, http.StatusNotFound, "UnknownService"},
		{"unauthorized", ErrorTypeUnauthorized, http.StatusUnauthorized, "Unauthorized"},
		{"no healthy instance", ErrorTypeNoHealthyInstance, http.StatusServiceUnavailable, "ServiceUnavailable"},
		{"service unavailable", ErrorTypeServiceUnavailable, http.StatusServiceUnavailable, "ServiceUnavailable"},
		{"upstream unreachable", ErrorTypeUpstreamUnreachable, http.StatusBadGateway, "UpstreamUnreachable"},
		{"upstream timeout", ErrorTypeUpstreamTimeout, http.StatusGatewayTimeout, "UpstreamUnreachable"},
		{"rate limited", ErrorTypeRateLimited, http.StatusTooManyRequests, "RateLimited"},
		{"bad request", ErrorTypeBadRequest, http.StatusBadRequest, "BadRequest"},
		{"request too large", ErrorTypeRequestTooLarge, http.StatusRequestEntityTooLarge, "RequestTooLarge"},
		{"internal", ErrorTypeInternal, http.StatusInternalServerError, "InternalError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewError(tt.errorType, "message")

			if err.Type != tt.errorType {
				t.Errorf("NewError() type = %v, want %v", err.Type, tt.errorType)
			}
			if err.Details == nil {
				t.Error("NewError() details should be initialized")
			}
			if got := err.HTTPStatusCode(); got != tt.wantStatus {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.wantStatus)
			}
			if got := err.Code(); got != tt.wantCode {
				t.Errorf("Code() = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestErrorWithDetails(t *testing.T) {
	err := NewError(ErrorTypeUnknownService, "service not routed").
		WithDetail("service", "orders").
		WithDetail("method", "GET")

	if err.Details["service"] != "orders" {
		t.Errorf("WithDetail() service = %v, want orders", err.Details["service"])
	}
	if len(err.Details) != 2 {
		t.Errorf("Expected 2 details, got %d", len(err.Details))
	}

	// Sentinels are built without a details map
	sentinel := *ErrUnauthorized
	sentinel.WithDetail("k", "v")
	if sentinel.Details["k"] != "v" {
		t.Error("WithDetail() should initialise a nil details map")
	}
}

func TestErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewError(ErrorTypeUpstreamUnreachable, "upstream unreachable").WithCause(cause)

	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Error() should include cause, got: %v", err.Error())
	}
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the cause through Unwrap")
	}
}

func TestErrorString(t *testing.T) {
	err := NewError(ErrorTypeUnknownService, "service not routed")
	if got, want := err.Error(), "unknown_service: service not routed"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	err = NewError(ErrorTypeInternal, "failed to register").WithCause(fmt.Errorf("boom"))
	if got, want := err.Error(), "internal: failed to register: boom"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorIsMatchesByType(t *testing.T) {
	err := fmt.Errorf("selecting: %w", NewError(ErrorTypeNoHealthyInstance, "no healthy instance for orders"))

	if !stderrors.Is(err, ErrNoHealthyInstance) {
		t.Error("wrapped error should match ErrNoHealthyInstance")
	}
	if stderrors.Is(err, ErrUnknownService) {
		t.Error("wrapped error should not match ErrUnknownService")
	}

	var gwErr *Error
	if !stderrors.As(err, &gwErr) || gwErr.Code() != "ServiceUnavailable" {
		t.Errorf("errors.As should extract the structured error, got %v", gwErr)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if got := Wrap(fmt.Errorf("x"), "context").Error(); got != "context: x" {
		t.Errorf("Wrap() = %q", got)
	}
}
