package jwt

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"meshgate/internal/middleware/auth"
	"meshgate/pkg/errors"
)

// Config represents JWT provider configuration
type Config struct {
	// Issuer is the expected token issuer
	Issuer string `yaml:"issuer"`
	// Audience lists accepted audiences; any match is enough
	Audience []string `yaml:"audience"`
	// SigningMethod is the signing algorithm (RS256, HS256, etc)
	SigningMethod string `yaml:"signingMethod"`
	// PublicKey for RS256/RS512 validation
	PublicKey string `yaml:"publicKey"`
	// Secret for HS256/HS512 validation
	Secret string `yaml:"secret"`
	// JWKS endpoint for key discovery
	JWKSEndpoint string `yaml:"jwksEndpoint"`
	// JWKSCacheDuration is how long to cache JWKS
	JWKSCacheDuration time.Duration `yaml:"jwksCacheDuration"`
	// ScopeClaim is the claim containing scopes/permissions
	ScopeClaim string `yaml:"scopeClaim"`
	// SubjectClaim is the claim naming the principal
	SubjectClaim string `yaml:"subjectClaim"`
}

// Provider verifies JWT bearer tokens
type Provider struct {
	config *Config
	logger *slog.Logger
	key    any
	jwks   *jwksCache
	parser *jwt.Parser
}

var _ auth.Verifier = (*Provider)(nil)

// NewProvider creates a new JWT verifier
func NewProvider(config *Config, logger *slog.Logger) (*Provider, error) {
	if config.SigningMethod == "" {
		config.SigningMethod = "RS256"
	}
	if config.ScopeClaim == "" {
		config.ScopeClaim = "scope"
	}
	if config.SubjectClaim == "" {
		config.SubjectClaim = "sub"
	}
	if config.JWKSCacheDuration == 0 {
		config.JWKSCacheDuration = 1 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Provider{
		config: config,
		logger: logger.With("component", "jwt"),
	}

	switch {
	case strings.HasPrefix(config.SigningMethod, "RS"):
		if config.PublicKey != "" {
			key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(config.PublicKey))
			if err != nil {
				return nil, errors.NewError(errors.ErrorTypeInternal, "failed to parse RSA public key").WithCause(err)
			}
			p.key = key
		} else if config.JWKSEndpoint == "" {
			return nil, errors.NewError(errors.ErrorTypeInternal, "RSA signing requires publicKey or jwksEndpoint")
		}
	case strings.HasPrefix(config.SigningMethod, "HS"):
		if config.Secret == "" {
			return nil, errors.NewError(errors.ErrorTypeInternal, "HMAC signing requires secret")
		}
		p.key = []byte(config.Secret)
	default:
		return nil, errors.NewError(errors.ErrorTypeInternal, fmt.Sprintf("unsupported signing method %q", config.SigningMethod))
	}

	if config.JWKSEndpoint != "" {
		p.jwks = newJWKSCache(config.JWKSEndpoint, config.JWKSCacheDuration, &http.Client{Timeout: 30 * time.Second})
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{config.SigningMethod}),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	p.parser = jwt.NewParser(opts...)

	return p, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "jwt"
}

// Verify checks signature, expiry, issuer and audience, and returns the
// subject claim as principal
func (p *Provider) Verify(ctx context.Context, token string) (auth.Verification, error) {
	parsed, err := p.parser.Parse(token, func(t *jwt.Token) (any, error) {
		return p.keyFor(ctx, t)
	})
	if err != nil {
		return auth.Verification{}, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return auth.Verification{}, fmt.Errorf("invalid token claims")
	}

	if len(p.config.Audience) > 0 && !p.validAudience(claims) {
		return auth.Verification{}, fmt.Errorf("invalid token audience")
	}

	subject, _ := claims[p.config.SubjectClaim].(string)
	if subject == "" {
		return auth.Verification{}, fmt.Errorf("missing %s claim", p.config.SubjectClaim)
	}

	v := auth.Verification{
		Valid:     true,
		Principal: subject,
		Scopes:    p.extractScopes(claims),
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		v.ExpiresAt = &t
	}
	return v, nil
}

// keyFor returns the key for validating the token
func (p *Provider) keyFor(ctx context.Context, token *jwt.Token) (any, error) {
	if p.key != nil {
		return p.key, nil
	}
	if p.jwks != nil {
		kid, _ := token.Header["kid"].(string)
		return p.jwks.getKey(ctx, kid)
	}
	return nil, fmt.Errorf("no key available for token validation")
}

func (p *Provider) validAudience(claims jwt.MapClaims) bool {
	aud, err := claims.GetAudience()
	if err != nil {
		return false
	}
	for _, a := range aud {
		if slices.Contains(p.config.Audience, a) {
			return true
		}
	}
	return false
}

// extractScopes accepts a space separated string or an array
func (p *Provider) extractScopes(claims jwt.MapClaims) []string {
	switch s := claims[p.config.ScopeClaim].(type) {
	case string:
		return strings.Fields(s)
	case []any:
		scopes := make([]string, 0, len(s))
		for _, scope := range s {
			if str, ok := scope.(string); ok {
				scopes = append(scopes, str)
			}
		}
		return scopes
	}
	return nil
}

// jwksCache caches JWKS keys
type jwksCache struct {
	endpoint   string
	client     *http.Client
	ttl        time.Duration
	mu         sync.RWMutex
	keys       map[string]*rsa.PublicKey
	lastUpdate time.Time
}

func newJWKSCache(endpoint string, ttl time.Duration, client *http.Client) *jwksCache {
	return &jwksCache{
		endpoint: endpoint,
		client:   client,
		ttl:      ttl,
		keys:     make(map[string]*rsa.PublicKey),
	}
}

func (c *jwksCache) getKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	fresh := time.Since(c.lastUpdate) < c.ttl
	c.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	if err := c.refresh(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	key, ok = c.keys[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("key %s not found in JWKS", kid)
	}
	return key, nil
}

func (c *jwksCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating JWKS request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.NewError(errors.ErrorTypeServiceUnavailable, "failed to fetch JWKS").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.NewError(errors.ErrorTypeServiceUnavailable, fmt.Sprintf("JWKS endpoint returned status %d", resp.StatusCode))
	}

	var set struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			Use string `json:"use"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return errors.NewError(errors.ErrorTypeInternal, "failed to decode JWKS response").WithCause(err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || k.Kid == "" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		key, err := parseRSAKey(k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = key
	}

	c.mu.Lock()
	c.keys = keys
	c.lastUpdate = time.Now()
	c.mu.Unlock()
	return nil
}

// parseRSAKey decodes base64url modulus and exponent
func parseRSAKey(n, e string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}
