package factory

import (
	"context"
	"log/slog"
	"time"

	"meshgate/internal/config"
	redisstore "meshgate/internal/storage/redis"
	"meshgate/pkg/errors"
)

const redisConnectTimeout = 5 * time.Second

// CreateRedisClient connects to redis and verifies the connection
func CreateRedisClient(ctx context.Context, cfg *config.Redis, logger *slog.Logger) (*redisstore.ClientAdapter, error) {
	if cfg == nil || cfg.Address == "" {
		return nil, errors.NewError(errors.ErrorTypeInternal, "redis address is required")
	}

	client := redisstore.Dial(cfg.Address, cfg.Password, cfg.DB)

	ctx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, errors.NewError(errors.ErrorTypeServiceUnavailable, "failed to connect to redis").
			WithCause(err).
			WithDetail("address", cfg.Address)
	}

	logger.Info("Connected to redis", "addr", cfg.Address, "db", cfg.DB)
	return client, nil
}
