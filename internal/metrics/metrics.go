package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway
type Metrics struct {
	// Gateway request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  *prometheus.GaugeVec

	// Upstream metrics
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec
	UpstreamErrors          *prometheus.CounterVec
	UpstreamRetries         *prometheus.CounterVec

	// Registry and health metrics
	ServiceInstances *prometheus.GaugeVec
	ProbesTotal      *prometheus.CounterVec
	ProbeDuration    *prometheus.HistogramVec
	Evictions        *prometheus.CounterVec
	Restorations     *prometheus.CounterVec
	StaleProbes      prometheus.Counter

	// Rate limiting metrics
	RateLimitRejected *prometheus.CounterVec

	// Log shipping metrics
	LogRecordsDropped   prometheus.Counter
	LogDeliveryFailures prometheus.Counter
	LogRecordsShipped   prometheus.Counter

	// Registry event stream metrics
	WatchSubscribers prometheus.Gauge
	WatchDropped     prometheus.Counter
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registerer
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_requests_total",
				Help: "Total number of gateway requests by terminal state",
			},
			[]string{"service", "method", "state", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_request_duration_seconds",
				Help:    "Gateway request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "method", "status"},
		),
		ActiveRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_requests_active",
				Help: "Number of in-flight gateway requests",
			},
			[]string{"service"},
		),

		UpstreamRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_requests_total",
				Help: "Total number of requests forwarded to service instances",
			},
			[]string{"service", "instance", "status"},
		),
		UpstreamRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_upstream_request_duration_seconds",
				Help:    "Upstream request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "instance"},
		),
		UpstreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_errors_total",
				Help: "Total number of failed upstream forwards",
			},
			[]string{"service", "instance", "error_type"},
		),
		UpstreamRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_retries_total",
				Help: "Total number of forwards retried against another instance",
			},
			[]string{"service"},
		),

		ServiceInstances: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_service_instances",
				Help: "Number of registered instances per service and health state",
			},
			[]string{"service", "state"},
		),
		ProbesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_health_probes_total",
				Help: "Total number of liveness probes by result",
			},
			[]string{"service", "result"},
		),
		ProbeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_health_probe_duration_seconds",
				Help:    "Liveness probe durations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		Evictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_instance_evictions_total",
				Help: "Total number of instances evicted from the live set",
			},
			[]string{"service"},
		),
		Restorations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_instance_restorations_total",
				Help: "Total number of evicted instances restored to the live set",
			},
			[]string{"service"},
		),
		StaleProbes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_health_probes_stale_total",
				Help: "Total number of probe results discarded as out of order",
			},
		),

		RateLimitRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_rate_limit_rejected_total",
				Help: "Total number of requests rejected due to rate limiting",
			},
			[]string{"service"},
		),

		LogRecordsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_log_records_dropped_total",
				Help: "Total number of log records dropped because the shipping queue was full",
			},
		),
		LogDeliveryFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_log_delivery_failures_total",
				Help: "Total number of failed log batch deliveries",
			},
		),
		LogRecordsShipped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_log_records_shipped_total",
				Help: "Total number of log records delivered to the collector",
			},
		),

		WatchSubscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_registry_watchers",
				Help: "Number of connected registry event subscribers",
			},
		),
		WatchDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_registry_events_dropped_total",
				Help: "Total number of registry events dropped for slow subscribers",
			},
		),
	}
}
