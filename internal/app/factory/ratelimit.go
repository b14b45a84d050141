package factory

import (
	"context"
	"fmt"
	"log/slog"

	"meshgate/internal/config"
	"meshgate/internal/core"
	"meshgate/internal/metrics"
	"meshgate/internal/middleware/ratelimit"
	"meshgate/internal/storage"
	"meshgate/internal/storage/memory"
	redisstore "meshgate/internal/storage/redis"
)

// LimiterStore is a created store plus the ping used by readiness checks.
// Ping is nil for stores without a remote dependency.
type LimiterStore struct {
	storage.LimiterStore
	Ping func(context.Context) error
}

// CreateLimiterStore creates the configured rate limit store
func CreateLimiterStore(ctx context.Context, cfg config.RateLimit, logger *slog.Logger) (*LimiterStore, error) {
	switch cfg.Store {
	case "memory", "":
		logger.Info("Creating memory limiter store")
		return &LimiterStore{LimiterStore: memory.NewStore(storage.DefaultConfig())}, nil

	case "redis":
		client, err := CreateRedisClient(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		store := redisstore.NewStore(client, storage.DefaultConfig())
		logger.Info("Creating redis limiter store", "addr", cfg.Redis.Address)
		return &LimiterStore{LimiterStore: store, Ping: store.Ping}, nil

	default:
		return nil, fmt.Errorf("unknown rate limit store: %s", cfg.Store)
	}
}

// CreateRateLimitMiddleware creates the per-route rate limiter. Routes
// are looked up on every request so reloads apply immediately.
func CreateRateLimitMiddleware(routes ratelimit.RouteLookup, store storage.LimiterStore, m *metrics.Metrics, logger *slog.Logger) core.Middleware {
	return ratelimit.PerRoute(&ratelimit.Config{
		Routes:  routes,
		KeyFunc: ratelimit.ByIP,
		Store:   store,
		Metrics: m,
		Logger:  logger,
	})
}
