package factory

import (
	"log/slog"

	"meshgate/internal/config"
	"meshgate/internal/core"
	"meshgate/internal/metrics"
	"meshgate/internal/middleware/auth"
	"meshgate/internal/router"
)

// CreateRouteTable creates the route table from the configured routes
func CreateRouteTable(cfg config.Router, logger *slog.Logger) *router.RouteTable {
	routes := cfg.ToRoutes()
	for _, r := range routes {
		logger.Info("Route configured",
			"service", r.ServiceName,
			"prefix", r.PathPrefix,
			"requireAuth", r.RequireAuth,
			"rateLimit", r.RateLimit,
		)
	}
	return router.NewRouteTable(routes)
}

// CreateRouter creates the gateway router
func CreateRouter(
	table *router.RouteTable,
	selector router.InstanceSelector,
	connector core.Connector,
	authenticator *auth.Authenticator,
	cfg config.Backend,
	m *metrics.Metrics,
	logger *slog.Logger,
) *router.Router {
	return router.New(router.Options{
		Routes:              table,
		Selector:            selector,
		Connector:           connector,
		Authenticator:       authenticator,
		RetryOnConnectError: cfg.RetryOnConnectError,
		Metrics:             m,
		Logger:              logger,
	})
}
