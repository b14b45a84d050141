package config

import (
	"strings"
	"time"

	"meshgate/internal/core"
)

// Config holds gateway configuration
type Config struct {
	Gateway Gateway `yaml:"gateway"`
}

// Gateway configuration
type Gateway struct {
	Frontend   Frontend   `yaml:"frontend"`
	Management Management `yaml:"management"`
	Backend    Backend    `yaml:"backend"`
	Registry   Registry   `yaml:"registry"`
	Router     Router     `yaml:"router"`
	Auth       *Auth      `yaml:"auth,omitempty"`
	RateLimit  RateLimit  `yaml:"rateLimit"`
	Metrics    Metrics    `yaml:"metrics"`
	Tracing    Tracing    `yaml:"tracing"`
	Logging    Logging    `yaml:"logging"`
}

// Frontend configuration
type Frontend struct {
	HTTP HTTP `yaml:"http"`
}

// HTTP configuration
type HTTP struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`
	WriteTimeout int    `yaml:"writeTimeout"`

	// MaxRequestSize caps request bodies in bytes; 0 disables the cap
	MaxRequestSize int64 `yaml:"maxRequestSize"`
}

// Management configuration for the registration and inspection API
type Management struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Backend configuration
type Backend struct {
	HTTP HTTPBackend `yaml:"http"`
	// UpstreamTimeoutSeconds bounds every forwarded request
	UpstreamTimeoutSeconds int `yaml:"upstreamTimeoutSeconds"`
	// RetryOnConnectError retries once against another instance when the
	// first choice refuses the connection
	RetryOnConnectError bool `yaml:"retryOnConnectError"`
}

// HTTPBackend configuration for backend connections
type HTTPBackend struct {
	MaxIdleConns          int `yaml:"maxIdleConns"`
	MaxIdleConnsPerHost   int `yaml:"maxIdleConnsPerHost"`
	IdleConnTimeout       int `yaml:"idleConnTimeout"`
	DialTimeout           int `yaml:"dialTimeout"`
	ResponseHeaderTimeout int `yaml:"responseHeaderTimeout"`
}

// Registry configuration
type Registry struct {
	ProbeIntervalSeconds int `yaml:"probeIntervalSeconds"`
	ProbeTimeoutSeconds  int `yaml:"probeTimeoutSeconds"`
	UnhealthyThreshold   int `yaml:"unhealthyThreshold"`
	// EventBuffer is the per-subscriber buffer of health events
	EventBuffer int `yaml:"eventBuffer"`
}

// ProbeInterval returns the probe interval as a duration
func (r Registry) ProbeInterval() time.Duration {
	return time.Duration(r.ProbeIntervalSeconds) * time.Second
}

// ProbeTimeout returns the probe timeout as a duration
func (r Registry) ProbeTimeout() time.Duration {
	return time.Duration(r.ProbeTimeoutSeconds) * time.Second
}

// Router configuration
type Router struct {
	Routes []Route `yaml:"routes"`
}

// Route configuration
type Route struct {
	ServiceName    string `yaml:"serviceName"`
	PathPrefix     string `yaml:"pathPrefix"`
	RequireAuth    bool   `yaml:"requireAuth"`
	Timeout        int    `yaml:"timeout"`
	RateLimit      int    `yaml:"rateLimit"`
	RateLimitBurst int    `yaml:"rateLimitBurst"`
}

// Auth configuration
type Auth struct {
	JWT JWT `yaml:"jwt"`
}

// JWT configuration for bearer token verification
type JWT struct {
	Issuer        string   `yaml:"issuer"`
	Audience      []string `yaml:"audience"`
	SigningMethod string   `yaml:"signingMethod"`
	Secret        string   `yaml:"secret"`
	PublicKey     string   `yaml:"publicKey"`
	JWKSEndpoint  string   `yaml:"jwksEndpoint"`
	SubjectClaim  string   `yaml:"subjectClaim"`
	ScopeClaim    string   `yaml:"scopeClaim"`
}

// RateLimit configuration
type RateLimit struct {
	// Store is "memory" or "redis"
	Store string `yaml:"store"`
	Redis *Redis `yaml:"redis,omitempty"`
}

// Redis configuration
type Redis struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Metrics configuration
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Tracing configuration
type Tracing struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	Insecure   bool    `yaml:"insecure"`
	SampleRate float64 `yaml:"sampleRate"`
	Service    string  `yaml:"service"`
}

// Logging configuration
type Logging struct {
	Level string  `yaml:"level"`
	Sink  LogSink `yaml:"sink"`
}

// LogSink configuration for shipping logs to the central collector
type LogSink struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	QueueSize     int    `yaml:"queueSize"`
	BatchSize     int    `yaml:"batchSize"`
	FlushInterval int    `yaml:"flushInterval"` // milliseconds
	Timeout       int    `yaml:"timeout"`       // seconds
}

// ToRoute converts to core.Route. An empty prefix forwards under
// /{serviceName}.
func (r *Route) ToRoute() core.Route {
	prefix := r.PathPrefix
	if prefix == "" {
		prefix = "/" + r.ServiceName
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return core.Route{
		ServiceName:    r.ServiceName,
		PathPrefix:     prefix,
		RequireAuth:    r.RequireAuth,
		Timeout:        time.Duration(r.Timeout) * time.Second,
		RateLimit:      r.RateLimit,
		RateLimitBurst: r.RateLimitBurst,
	}
}

// ToRoutes converts every configured route
func (r Router) ToRoutes() []core.Route {
	routes := make([]core.Route, 0, len(r.Routes))
	for i := range r.Routes {
		routes = append(routes, r.Routes[i].ToRoute())
	}
	return routes
}

// ApplyDefaults fills zero values with the documented defaults
func (c *Config) ApplyDefaults() {
	g := &c.Gateway
	if g.Frontend.HTTP.ReadTimeout == 0 {
		g.Frontend.HTTP.ReadTimeout = 30
	}
	if g.Frontend.HTTP.WriteTimeout == 0 {
		g.Frontend.HTTP.WriteTimeout = 60
	}
	if g.Management.Host == "" {
		g.Management.Host = "0.0.0.0"
	}
	if g.Management.Port == 0 {
		g.Management.Port = 8081
	}
	if g.Backend.UpstreamTimeoutSeconds == 0 {
		g.Backend.UpstreamTimeoutSeconds = 30
	}
	if g.Backend.HTTP.MaxIdleConns == 0 {
		g.Backend.HTTP.MaxIdleConns = 100
	}
	if g.Backend.HTTP.MaxIdleConnsPerHost == 0 {
		g.Backend.HTTP.MaxIdleConnsPerHost = 10
	}
	if g.Backend.HTTP.IdleConnTimeout == 0 {
		g.Backend.HTTP.IdleConnTimeout = 90
	}
	if g.Backend.HTTP.DialTimeout == 0 {
		g.Backend.HTTP.DialTimeout = 5
	}
	if g.Registry.ProbeIntervalSeconds == 0 {
		g.Registry.ProbeIntervalSeconds = 30
	}
	if g.Registry.ProbeTimeoutSeconds == 0 {
		g.Registry.ProbeTimeoutSeconds = min(5, g.Registry.ProbeIntervalSeconds)
	}
	if g.Registry.UnhealthyThreshold == 0 {
		g.Registry.UnhealthyThreshold = 3
	}
	if g.Registry.EventBuffer == 0 {
		g.Registry.EventBuffer = 64
	}
	if g.RateLimit.Store == "" {
		g.RateLimit.Store = "memory"
	}
	if g.Metrics.Path == "" {
		g.Metrics.Path = "/metrics"
	}
	if g.Tracing.Service == "" {
		g.Tracing.Service = "meshgate"
	}
	if g.Tracing.SampleRate == 0 {
		g.Tracing.SampleRate = 1.0
	}
	if g.Logging.Level == "" {
		g.Logging.Level = "info"
	}
	if g.Logging.Sink.QueueSize == 0 {
		g.Logging.Sink.QueueSize = 1024
	}
	if g.Logging.Sink.BatchSize == 0 {
		g.Logging.Sink.BatchSize = 100
	}
	if g.Logging.Sink.FlushInterval == 0 {
		g.Logging.Sink.FlushInterval = 1000
	}
	if g.Logging.Sink.Timeout == 0 {
		g.Logging.Sink.Timeout = 5
	}
}
