package factory

import (
	"log/slog"
	"time"

	"meshgate/internal/config"
	"meshgate/internal/middleware/auth"
	"meshgate/internal/middleware/auth/jwt"
	"meshgate/pkg/errors"
)

// CreateAuthenticator creates the authenticator for routes that require
// auth. It returns nil when no auth is configured.
func CreateAuthenticator(cfg *config.Auth, logger *slog.Logger) (*auth.Authenticator, error) {
	if cfg == nil {
		return nil, nil
	}

	provider, err := jwt.NewProvider(&jwt.Config{
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
		SigningMethod:     cfg.JWT.SigningMethod,
		PublicKey:         cfg.JWT.PublicKey,
		Secret:            cfg.JWT.Secret,
		JWKSEndpoint:      cfg.JWT.JWKSEndpoint,
		JWKSCacheDuration: time.Hour,
		ScopeClaim:        cfg.JWT.ScopeClaim,
		SubjectClaim:      cfg.JWT.SubjectClaim,
	}, logger)
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeInternal, "failed to create JWT provider").WithCause(err)
	}

	logger.Info("Authentication enabled", "provider", provider.Name(), "issuer", cfg.JWT.Issuer)
	return auth.NewAuthenticator(provider, nil, logger), nil
}
