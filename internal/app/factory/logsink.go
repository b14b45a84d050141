package factory

import (
	"log/slog"
	"time"

	"meshgate/internal/config"
	"meshgate/internal/logsink"
	"meshgate/internal/metrics"
)

// CreateLogSink creates the log shipping sink, or nil when disabled
func CreateLogSink(cfg config.LogSink, level slog.Leveler, m *metrics.Metrics) (*logsink.Sink, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return logsink.New(logsink.Config{
		Endpoint:      cfg.Endpoint,
		QueueSize:     cfg.QueueSize,
		BatchSize:     cfg.BatchSize,
		FlushInterval: time.Duration(cfg.FlushInterval) * time.Millisecond,
		Timeout:       time.Duration(cfg.Timeout) * time.Second,
		Level:         level,
	}, m)
}

// ParseLevel parses a level name such as "debug" or "WARN", defaulting
// to info
func ParseLevel(name string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
