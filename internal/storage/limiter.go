package storage

import (
	"context"
	"time"
)

// Limit describes a token bucket: Rate tokens are added per second up to
// Burst.
type Limit struct {
	Rate  int
	Burst int
}

// Normalize fills a zero burst with the rate
func (l Limit) Normalize() Limit {
	if l.Burst <= 0 {
		l.Burst = l.Rate
	}
	return l
}

// Decision is the outcome of a single Allow call
type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is how long a rejected caller should wait. Zero when
	// allowed.
	RetryAfter time.Duration
}

// LimiterStore defines the interface for rate limiter storage
type LimiterStore interface {
	// Allow consumes one token for key under limit
	Allow(ctx context.Context, key string, limit Limit) (Decision, error)

	// Reset resets the counter for the given key
	Reset(ctx context.Context, key string) error

	// Close closes the store and releases resources
	Close() error
}

// LimiterStoreConfig defines common configuration for limiter stores
type LimiterStoreConfig struct {
	// CleanupInterval is how often idle entries are swept
	CleanupInterval time.Duration
	// IdleTimeout is how long an unused entry is kept
	IdleTimeout time.Duration
	// MaxEntries is the maximum number of entries to keep (0 = unlimited)
	MaxEntries int
	// KeyPrefix namespaces keys in shared stores
	KeyPrefix string
}

// DefaultConfig returns default configuration
func DefaultConfig() *LimiterStoreConfig {
	return &LimiterStoreConfig{
		CleanupInterval: 5 * time.Minute,
		IdleTimeout:     10 * time.Minute,
		MaxEntries:      10000, // Prevent unbounded memory growth
		KeyPrefix:       "ratelimit:",
	}
}
