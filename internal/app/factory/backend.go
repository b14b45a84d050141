package factory

import (
	"net/http"
	"time"

	"meshgate/internal/backend"
	"meshgate/internal/config"
	"meshgate/internal/telemetry"
)

// CreateHTTPClient creates the pooled client used for upstream calls
func CreateHTTPClient(cfg config.HTTPBackend) *http.Client {
	return backend.NewHTTPClient(backend.ClientConfig{
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       time.Duration(cfg.IdleConnTimeout) * time.Second,
		DialTimeout:           time.Duration(cfg.DialTimeout) * time.Second,
		ResponseHeaderTimeout: time.Duration(cfg.ResponseHeaderTimeout) * time.Second,
	})
}

// CreateHTTPConnector creates the connector that forwards to instances
func CreateHTTPConnector(client *http.Client, cfg config.Backend, tel *telemetry.Telemetry) *backend.HTTPConnector {
	return backend.NewHTTPConnector(client, upstreamTimeout(cfg), tel)
}

func upstreamTimeout(cfg config.Backend) time.Duration {
	if cfg.UpstreamTimeoutSeconds <= 0 {
		return backend.DefaultUpstreamTimeout
	}
	return time.Duration(cfg.UpstreamTimeoutSeconds) * time.Second
}
