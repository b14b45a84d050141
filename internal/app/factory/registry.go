package factory

import (
	"log/slog"

	"meshgate/internal/config"
	"meshgate/internal/health"
	"meshgate/internal/metrics"
	"meshgate/internal/registry"
)

// CreateRegistry creates the service registry with one liveness monitor
// per registered instance
func CreateRegistry(cfg config.Registry, m *metrics.Metrics, logger *slog.Logger) *registry.Registry {
	launcher := health.NewLauncher(health.MonitorConfig{
		Interval: cfg.ProbeInterval(),
		Timeout:  cfg.ProbeTimeout(),
	}, nil, m, logger)

	logger.Info("Creating service registry",
		"probeInterval", cfg.ProbeInterval(),
		"probeTimeout", cfg.ProbeTimeout(),
		"unhealthyThreshold", cfg.UnhealthyThreshold,
	)

	return registry.New(registry.Options{
		UnhealthyThreshold: cfg.UnhealthyThreshold,
		Monitor:            launcher.Run,
		Metrics:            m,
		Logger:             logger,
	})
}
