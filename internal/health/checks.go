package health

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"meshgate/internal/core"
)

// ErrDegraded marks a check failure that leaves the gateway serving
// partially. Wrap it to report StatusDegraded instead of StatusUnhealthy.
var ErrDegraded = errors.New("degraded")

// RouteCoverageCheck reports the gateway as degraded while a routed service
// has no live instance.
func RouteCoverageCheck(registry core.ServiceRegistry, routes func() []core.Route) Check {
	return func(ctx context.Context) error {
		var empty []string
		for _, route := range routes() {
			if len(registry.HealthyInstances(route.ServiceName)) == 0 {
				empty = append(empty, route.ServiceName)
			}
		}
		if len(empty) > 0 {
			return fmt.Errorf("%w: no live instances for %s", ErrDegraded, strings.Join(empty, ", "))
		}
		return nil
	}
}

// PingCheck wraps a dependency ping, such as the shared rate limit store
func PingCheck(ping func(context.Context) error) Check {
	return func(ctx context.Context) error {
		if err := ping(ctx); err != nil {
			return fmt.Errorf("ping failed: %w", err)
		}
		return nil
	}
}
