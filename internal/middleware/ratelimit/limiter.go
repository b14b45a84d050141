package ratelimit

import (
	"net"
	"strings"

	"meshgate/internal/core"
)

// KeyFunc extracts rate limit key from request
type KeyFunc func(core.Request) string

// ByIP rate limits by the client IP, ignoring the source port
func ByIP(req core.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr())
	if err != nil {
		return req.RemoteAddr()
	}
	return host
}

// ByForwardedIP uses the first X-Forwarded-For hop when present. Only
// safe behind a proxy that overwrites the header.
func ByForwardedIP(req core.Request) string {
	for _, v := range req.Headers()["X-Forwarded-For"] {
		first, _, _ := strings.Cut(v, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return ByIP(req)
}
