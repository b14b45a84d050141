package ratelimit

import (
	"log/slog"

	"meshgate/internal/core"
	"meshgate/internal/metrics"
	"meshgate/internal/storage"
)

// RouteLookup resolves the route a service name maps to
type RouteLookup interface {
	Lookup(name string) (core.Route, bool)
}

// Config defines rate limit configuration with storage backend
type Config struct {
	// Routes supplies per-route rate and burst; routes without a rate are
	// not limited
	Routes RouteLookup
	// KeyFunc extracts the client part of the rate limit key
	KeyFunc KeyFunc
	// Store is the storage backend
	Store storage.LimiterStore
	// Metrics records rejections; optional
	Metrics *metrics.Metrics
	// Logger for logging
	Logger *slog.Logger
}
