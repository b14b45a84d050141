package config

import (
	"fmt"
	"os"

	"meshgate/pkg/errors"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration from file
type Loader struct {
	path       string
	envEnabled bool
}

// NewLoader creates a config loader
func NewLoader(path string) *Loader {
	return &Loader{
		path:       path,
		envEnabled: true,
	}
}

// WithEnvVars enables or disables environment variable loading
func (l *Loader) WithEnvVars(enabled bool) *Loader {
	l.envEnabled = enabled
	return l
}

// Load loads the configuration
func (l *Loader) Load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeInternal, "failed to read config file").WithCause(err)
	}
	return l.parse(data)
}

// Load reads, overrides from the environment and validates the file at path
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

func (l *Loader) parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.NewError(errors.ErrorTypeInternal, "failed to parse config").WithCause(err)
	}

	if l.envEnabled {
		if err := LoadEnv(&cfg); err != nil {
			return nil, errors.NewError(errors.ErrorTypeInternal, "failed to load env vars").WithCause(err)
		}
	}

	cfg.ApplyDefaults()

	if err := Validate(&cfg); err != nil {
		return nil, errors.NewError(errors.ErrorTypeBadRequest, "invalid configuration").WithCause(err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func Validate(cfg *Config) error {
	g := &cfg.Gateway

	if g.Frontend.HTTP.Port <= 0 || g.Frontend.HTTP.Port > 65535 {
		return fmt.Errorf("invalid frontend HTTP port: %d", g.Frontend.HTTP.Port)
	}
	if g.Frontend.HTTP.MaxRequestSize < 0 {
		return fmt.Errorf("maxRequestSize must not be negative")
	}
	if g.Management.Enabled && g.Management.Port == g.Frontend.HTTP.Port {
		return fmt.Errorf("management port must differ from frontend port")
	}

	if g.Registry.ProbeIntervalSeconds < 0 || g.Registry.ProbeTimeoutSeconds < 0 {
		return fmt.Errorf("probe interval and timeout must be positive")
	}
	if g.Registry.ProbeTimeoutSeconds > g.Registry.ProbeIntervalSeconds {
		return fmt.Errorf("probeTimeoutSeconds (%d) exceeds probeIntervalSeconds (%d)",
			g.Registry.ProbeTimeoutSeconds, g.Registry.ProbeIntervalSeconds)
	}
	if g.Registry.UnhealthyThreshold < 1 {
		return fmt.Errorf("unhealthyThreshold must be at least 1")
	}
	if g.Backend.UpstreamTimeoutSeconds < 0 {
		return fmt.Errorf("upstreamTimeoutSeconds must be positive")
	}

	if err := ValidateRoutes(g.Router.Routes); err != nil {
		return err
	}
	requiresAuth := false
	for _, route := range g.Router.Routes {
		requiresAuth = requiresAuth || route.RequireAuth
	}
	if requiresAuth && g.Auth == nil {
		return fmt.Errorf("routes require auth but no auth provider is configured")
	}

	switch g.RateLimit.Store {
	case "memory":
	case "redis":
		if g.RateLimit.Redis == nil || g.RateLimit.Redis.Address == "" {
			return fmt.Errorf("redis rate limit store requires redis.address")
		}
	default:
		return fmt.Errorf("unknown rate limit store: %s", g.RateLimit.Store)
	}

	if g.Logging.Sink.Enabled && g.Logging.Sink.Endpoint == "" {
		return fmt.Errorf("logging sink enabled without endpoint")
	}
	if g.Tracing.Enabled && g.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing enabled without endpoint")
	}

	return nil
}
