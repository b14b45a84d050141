package core

import (
	"context"
	"io"
	"time"
)

// Request represents an incoming request
type Request interface {
	ID() string
	Method() string
	// Path is the escaped request path
	Path() string
	URL() string
	RemoteAddr() string
	Headers() map[string][]string
	Body() io.ReadCloser
	Context() context.Context
}

// Response represents an outgoing response
type Response interface {
	StatusCode() int
	Headers() map[string][]string
	Body() io.ReadCloser
}

// Handler processes requests
type Handler func(context.Context, Request) (Response, error)

// Middleware wraps handlers
type Middleware func(Handler) Handler

// ServiceRegistry exposes the live set of a logical service.
type ServiceRegistry interface {
	// HealthyInstances returns a snapshot of the live set in registration
	// order. Unknown services yield an empty slice.
	HealthyInstances(name string) []ServiceInstance
}

// HealthReporter receives probe outcomes from health monitors.
type HealthReporter interface {
	// UpdateHealth applies a probe result and reports whether it was
	// accepted. Results older than the last applied probe are discarded.
	UpdateHealth(instanceID string, result ProbeResult) bool
}

// Selector picks one live instance of a service.
type Selector interface {
	Select(name string) (*ServiceInstance, error)
}

// Connector forwards a request to a selected upstream instance.
type Connector interface {
	Forward(ctx context.Context, req Request, target *ForwardTarget) (Response, error)
}

// ForwardTarget describes where a request is forwarded to.
type ForwardTarget struct {
	Instance *ServiceInstance
	Route    *Route
	// Subpath is the request path below /api/{service}, including the
	// leading slash.
	Subpath string
	Timeout time.Duration
}

// Route maps a logical service name to the path prefix requests are
// forwarded under.
type Route struct {
	ServiceName    string        `json:"serviceName" yaml:"serviceName"`
	PathPrefix     string        `json:"pathPrefix" yaml:"pathPrefix"`
	RequireAuth    bool          `json:"requireAuth" yaml:"requireAuth"`
	Timeout        time.Duration `json:"timeout,omitempty" yaml:"timeout"`
	RateLimit      int           `json:"rateLimit,omitempty" yaml:"rateLimit"`
	RateLimitBurst int           `json:"rateLimitBurst,omitempty" yaml:"rateLimitBurst"`
}
