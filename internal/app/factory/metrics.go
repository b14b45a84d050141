package factory

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"meshgate/internal/config"
	"meshgate/internal/metrics"
)

// CreateMetrics creates the gateway metrics on their own registry together
// with the handler that exposes them. Both are nil when metrics are off.
func CreateMetrics(cfg config.Metrics) (*metrics.Metrics, http.Handler) {
	if !cfg.Enabled {
		return nil, nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.NewWithRegistry(reg), metrics.HandlerFor(reg)
}
