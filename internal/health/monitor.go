package health

import (
	"context"
	"log/slog"
	"time"

	"meshgate/internal/core"
	"meshgate/internal/metrics"
)

const (
	DefaultProbeInterval = 30 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// MonitorConfig controls probe cadence
type MonitorConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultProbeInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultProbeTimeout
	}
	if c.Timeout > c.Interval {
		c.Timeout = c.Interval
	}
	return c
}

// Monitor probes one instance on a fixed interval and reports every
// outcome. Probe failures never stop the loop.
type Monitor struct {
	instance core.ServiceInstance
	reporter core.HealthReporter
	prober   Prober
	config   MonitorConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger

	seq uint64
}

// NewMonitor creates a monitor for instance
func NewMonitor(instance core.ServiceInstance, reporter core.HealthReporter, prober Prober, cfg MonitorConfig, m *metrics.Metrics, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		instance: instance,
		reporter: reporter,
		prober:   prober,
		config:   cfg.withDefaults(),
		metrics:  m,
		logger: logger.With(
			"component", "health-monitor",
			"service", instance.Name,
			"instance", instance.ID,
		),
	}
}

// Run probes immediately and then once per interval until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.logger.Debug("Health monitor started",
		"address", m.instance.HealthCheckAddress,
		"interval", m.config.Interval,
		"timeout", m.config.Timeout,
	)

	m.check(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("Health monitor stopped")
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// check runs one probe and reports it unless the monitor was cancelled
// while the probe was in flight.
func (m *Monitor) check(ctx context.Context) {
	m.seq++
	result := core.ProbeResult{Seq: m.seq, StartedAt: time.Now()}

	err := probeWithTimeout(ctx, m.prober, m.instance.HealthCheckAddress, m.config.Timeout)
	result.CompletedAt = time.Now()
	if ctx.Err() != nil {
		return
	}
	result.Healthy = err == nil
	result.Err = err

	if m.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		m.metrics.ProbesTotal.WithLabelValues(m.instance.Name, outcome).Inc()
		m.metrics.ProbeDuration.WithLabelValues(m.instance.Name).Observe(result.Latency().Seconds())
	}
	if err != nil {
		m.logger.Debug("Health probe failed",
			"seq", result.Seq,
			"latency", result.Latency(),
			"error", err,
		)
	}

	m.reporter.UpdateHealth(m.instance.ID, result)
}

// Launcher starts monitors for newly registered instances
type Launcher struct {
	config  MonitorConfig
	prober  Prober
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewLauncher creates a launcher. A nil prober selects HTTP or gRPC
// probing by the health address scheme.
func NewLauncher(cfg MonitorConfig, prober Prober, m *metrics.Metrics, logger *slog.Logger) *Launcher {
	if prober == nil {
		prober = NewSchemeProber()
	}
	return &Launcher{
		config:  cfg.withDefaults(),
		prober:  prober,
		metrics: m,
		logger:  logger,
	}
}

// Run monitors instance until ctx is cancelled
func (l *Launcher) Run(ctx context.Context, instance core.ServiceInstance, reporter core.HealthReporter) {
	NewMonitor(instance, reporter, l.prober, l.config, l.metrics, l.logger).Run(ctx)
}
