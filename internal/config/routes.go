package config

import (
	"fmt"
	"path"
	"strings"
)

// ValidateRoutes checks that routes can be served side by side: every
// serviceName is a single unique path segment and every prefix, once
// normalized, is a clean absolute path.
func ValidateRoutes(routes []Route) error {
	seen := make(map[string]bool, len(routes))
	for i, route := range routes {
		name := route.ServiceName
		if name == "" {
			return fmt.Errorf("route %d: serviceName is required", i)
		}
		if strings.ContainsAny(name, "/?#% \t") {
			return fmt.Errorf("route %d: serviceName %q must be a single path segment", i, name)
		}
		if seen[name] {
			return fmt.Errorf("route %d: duplicate serviceName %s", i, name)
		}
		seen[name] = true

		prefix := route.ToRoute().PathPrefix
		if strings.ContainsAny(prefix, "?#% \t") || path.Clean(prefix) != prefix {
			return fmt.Errorf("route %s: malformed pathPrefix %q", name, route.PathPrefix)
		}
		if route.Timeout < 0 {
			return fmt.Errorf("route %s: negative timeout", name)
		}
		if route.RateLimit < 0 || route.RateLimitBurst < 0 {
			return fmt.Errorf("route %s: negative rate limit", name)
		}
	}
	return nil
}
