package auth

import (
	"net/http"
	"strings"

	"meshgate/pkg/errors"
)

// BearerExtractor reads tokens from the Authorization header and,
// optionally, a cookie
type BearerExtractor struct {
	// HeaderName is the header to extract token from (default: Authorization)
	HeaderName string
	// Scheme is the auth scheme (default: Bearer)
	Scheme string
	// CookieName is an optional cookie to check for token
	CookieName string
}

// NewBearerExtractor creates an extractor for "Authorization: Bearer <token>"
func NewBearerExtractor() *BearerExtractor {
	return &BearerExtractor{
		HeaderName: "Authorization",
		Scheme:     "Bearer",
	}
}

// Extract returns the first token found
func (e *BearerExtractor) Extract(headers map[string][]string) (string, error) {
	for _, value := range http.Header(headers).Values(e.HeaderName) {
		scheme, token, ok := strings.Cut(value, " ")
		if !ok || !strings.EqualFold(scheme, e.Scheme) {
			continue
		}
		if token = strings.TrimSpace(token); token != "" {
			return token, nil
		}
	}

	if e.CookieName != "" {
		req := http.Request{Header: http.Header{"Cookie": http.Header(headers).Values("Cookie")}}
		if c, err := req.Cookie(e.CookieName); err == nil && c.Value != "" {
			return c.Value, nil
		}
	}

	return "", errors.NewError(errors.ErrorTypeUnauthorized, "no authentication token found")
}
