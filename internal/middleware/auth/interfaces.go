package auth

import (
	"context"
	"time"
)

// Verifier checks a bearer token. A token that cannot be accepted yields
// Valid=false; the error, if any, says why.
type Verifier interface {
	Verify(ctx context.Context, token string) (Verification, error)
}

// VerifierFunc adapts a function to the Verifier interface
type VerifierFunc func(ctx context.Context, token string) (Verification, error)

// Verify calls f
func (f VerifierFunc) Verify(ctx context.Context, token string) (Verification, error) {
	return f(ctx, token)
}

// Verification is the outcome of a token check
type Verification struct {
	Valid bool
	// Principal identifies the authenticated subject. Empty when not valid.
	Principal string
	Scopes    []string
	ExpiresAt *time.Time
}

// Extractor pulls a token out of request headers
type Extractor interface {
	Extract(headers map[string][]string) (string, error)
}
