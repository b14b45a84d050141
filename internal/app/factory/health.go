package factory

import (
	"context"
	"fmt"
	"os"

	"meshgate/internal/core"
	"meshgate/internal/health"
)

// CreateHealthHandler creates the handler for the gateway's own health
// endpoints. ping checks the shared rate limit store and may be nil.
func CreateHealthHandler(registry core.ServiceRegistry, routes func() []core.Route, ping func(context.Context) error, version string) *health.Handler {
	checker := health.NewChecker()
	checker.RegisterCheck("routes", health.RouteCoverageCheck(registry, routes))
	if ping != nil {
		checker.RegisterCheck("ratelimit-store", health.PingCheck(ping))
	}
	return health.NewHandler(checker, version, gatewayID())
}

func gatewayID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("gateway-%s-%d", host, os.Getpid())
}
