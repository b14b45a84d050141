package factory

import (
	"context"
	"fmt"
	"log/slog"

	"meshgate/internal/config"
	"meshgate/internal/telemetry"
)

// CreateTelemetry creates the tracing pipeline from configuration
func CreateTelemetry(ctx context.Context, cfg config.Tracing, version string, logger *slog.Logger) (*telemetry.Telemetry, error) {
	if !cfg.Enabled {
		return telemetry.Noop(), nil
	}

	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:    true,
		Service:    cfg.Service,
		Version:    version,
		Endpoint:   cfg.Endpoint,
		Insecure:   cfg.Insecure,
		SampleRate: cfg.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("creating telemetry: %w", err)
	}

	logger.Info("Tracing enabled", "service", cfg.Service, "endpoint", cfg.Endpoint, "sampleRate", cfg.SampleRate)
	return tel, nil
}
