package ratelimit

import (
	"context"
	"log/slog"
	"math"

	"meshgate/internal/core"
	"meshgate/internal/storage"
	"meshgate/pkg/errors"
)

// PerRoute limits each client per routed service using the rate and
// burst of the service's route. Requests outside /api/, for unknown
// services or for routes without a rate pass through untouched. Store
// errors fail open.
func PerRoute(cfg *Config) core.Middleware {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = ByIP
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ratelimit")

	return func(next core.Handler) core.Handler {
		return func(ctx context.Context, req core.Request) (core.Response, error) {
			service, _, ok := core.ParseGatewayPath(req.Path())
			if !ok {
				return next(ctx, req)
			}
			route, ok := cfg.Routes.Lookup(service)
			if !ok || route.RateLimit <= 0 {
				return next(ctx, req)
			}

			key := service + ":" + keyFunc(req)
			limit := storage.Limit{Rate: route.RateLimit, Burst: route.RateLimitBurst}
			decision, err := cfg.Store.Allow(ctx, key, limit)
			if err != nil {
				logger.Warn("Rate limit store unavailable, allowing request",
					"service", service,
					"key", key,
					"error", err,
				)
				return next(ctx, req)
			}
			if decision.Allowed {
				return next(ctx, req)
			}

			if cfg.Metrics != nil {
				cfg.Metrics.RateLimitRejected.WithLabelValues(service).Inc()
			}
			logger.Debug("Rate limit exceeded",
				"service", service,
				"key", key,
				"method", req.Method(),
				"retry_after", decision.RetryAfter,
			)

			return nil, errors.NewError(errors.ErrorTypeRateLimited, "rate limit exceeded").
				WithDetail("service", service).
				WithDetail("retryAfter", retryAfterSeconds(decision))
		}
	}
}

// retryAfterSeconds rounds up to whole seconds for the Retry-After header
func retryAfterSeconds(d storage.Decision) int {
	return max(1, int(math.Ceil(d.RetryAfter.Seconds())))
}
