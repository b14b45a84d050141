package auth

import (
	"context"
	"log/slog"

	"meshgate/pkg/errors"
)

// Authenticator verifies the caller of a request that requires
// authentication
type Authenticator struct {
	verifier  Verifier
	extractor Extractor
	logger    *slog.Logger
}

// NewAuthenticator creates an authenticator. A nil extractor reads bearer
// tokens from the Authorization header.
func NewAuthenticator(verifier Verifier, extractor Extractor, logger *slog.Logger) *Authenticator {
	if extractor == nil {
		extractor = NewBearerExtractor()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		verifier:  verifier,
		extractor: extractor,
		logger:    logger.With("component", "auth"),
	}
}

// Authenticate extracts and verifies the caller's token. Every failure is
// an unauthorized error.
func (a *Authenticator) Authenticate(ctx context.Context, headers map[string][]string) (Verification, error) {
	if a == nil || a.verifier == nil {
		return Verification{}, errors.NewError(errors.ErrorTypeUnauthorized, "no token verifier configured")
	}

	token, err := a.extractor.Extract(headers)
	if err != nil {
		return Verification{}, err
	}

	v, err := a.verifier.Verify(ctx, token)
	if err != nil || !v.Valid {
		a.logger.Debug("Token rejected", "error", err)
		unauthorized := errors.NewError(errors.ErrorTypeUnauthorized, "invalid token")
		if err != nil {
			unauthorized = unauthorized.WithCause(err)
		}
		return Verification{}, unauthorized
	}

	a.logger.Debug("Authentication successful", "principal", v.Principal)
	return v, nil
}

// Context keys
type contextKey string

const verificationKey contextKey = "verification"

// WithVerification stores the caller's verification in ctx
func WithVerification(ctx context.Context, v Verification) context.Context {
	return context.WithValue(ctx, verificationKey, v)
}

// FromContext returns the verification stored by WithVerification
func FromContext(ctx context.Context) (Verification, bool) {
	v, ok := ctx.Value(verificationKey).(Verification)
	return v, ok
}

// Principal returns the authenticated principal in ctx, if any
func Principal(ctx context.Context) string {
	v, _ := FromContext(ctx)
	return v.Principal
}
