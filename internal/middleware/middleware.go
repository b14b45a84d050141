package middleware

import (
	"context"
	"log/slog"
	"time"

	"meshgate/internal/core"
	"meshgate/pkg/errors"
)

// Chain combines multiple middleware. The first middleware is the
// outermost.
func Chain(middlewares ...core.Middleware) core.Middleware {
	return func(next core.Handler) core.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Logging logs one line per completed request. Client errors are logged
// at info, server-side failures at warn.
func Logging(logger *slog.Logger) core.Middleware {
	logger = logger.With("component", "access")
	return func(next core.Handler) core.Handler {
		return func(ctx context.Context, req core.Request) (core.Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			attrs := []any{
				"id", req.ID(),
				"method", req.Method(),
				"path", req.Path(),
				"remote", req.RemoteAddr(),
				"duration", time.Since(start),
			}

			if err != nil {
				status := statusOf(err)
				attrs = append(attrs, "status", status, "error", err)
				if status >= 500 {
					logger.Warn("Request failed", attrs...)
				} else {
					logger.Info("Request rejected", attrs...)
				}
				return resp, err
			}

			if resp != nil {
				attrs = append(attrs, "status", resp.StatusCode())
			}
			logger.Info("Request completed", attrs...)
			return resp, err
		}
	}
}

func statusOf(err error) int {
	if gwErr, ok := err.(*errors.Error); ok {
		return gwErr.HTTPStatusCode()
	}
	return 500
}
