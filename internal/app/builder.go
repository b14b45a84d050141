package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	httpAdapter "meshgate/internal/adapter/http"
	"meshgate/internal/app/factory"
	"meshgate/internal/config"
	"meshgate/internal/logsink"
	"meshgate/internal/management"
	"meshgate/internal/middleware"
	"meshgate/internal/middleware/recovery"
	"meshgate/internal/router"
)

// Version is reported by the health endpoints and the tracer resource
var Version = "dev"

// Builder builds the gateway application
type Builder struct {
	config     *config.Config
	configPath string
	logger     *slog.Logger
}

// NewBuilder creates a new application builder
func NewBuilder(cfg *config.Config, logger *slog.Logger) *Builder {
	return &Builder{
		config: cfg,
		logger: logger,
	}
}

// WithConfigPath enables hot reload of the route table from path
func (b *Builder) WithConfigPath(path string) *Builder {
	b.configPath = path
	return b
}

// Build constructs the gateway server. Resources created before a
// failure are released.
func (b *Builder) Build(ctx context.Context) (_ *Server, err error) {
	g := &b.config.Gateway
	s := &Server{logger: b.logger}
	defer func() {
		if err != nil {
			s.release(context.Background())
		}
	}()

	m, metricsHandler := factory.CreateMetrics(g.Metrics)
	s.metrics = m

	// Ship logs before anything else logs
	s.sink, err = factory.CreateLogSink(g.Logging.Sink, factory.ParseLevel(g.Logging.Level), m)
	if err != nil {
		return nil, fmt.Errorf("creating log sink: %w", err)
	}
	if s.sink != nil {
		s.logger = slog.New(logsink.Tee(b.logger.Handler(), s.sink.Handler()))
		s.logger.Info("Log shipping enabled", "endpoint", g.Logging.Sink.Endpoint)
	}
	logger := s.logger

	s.telemetry, err = factory.CreateTelemetry(ctx, g.Tracing, Version, logger)
	if err != nil {
		return nil, err
	}

	s.registry = factory.CreateRegistry(g.Registry, m, logger)
	s.routes = factory.CreateRouteTable(g.Router, logger)
	selector := router.NewRoundRobinSelector(s.registry)
	s.selector = selector

	authenticator, err := factory.CreateAuthenticator(g.Auth, logger)
	if err != nil {
		return nil, fmt.Errorf("creating authenticator: %w", err)
	}

	s.store, err = factory.CreateLimiterStore(ctx, g.RateLimit, logger)
	if err != nil {
		return nil, fmt.Errorf("creating rate limit store: %w", err)
	}

	client := factory.CreateHTTPClient(g.Backend.HTTP)
	connector := factory.CreateHTTPConnector(client, g.Backend, s.telemetry)
	rt := factory.CreateRouter(s.routes, selector, connector, authenticator, g.Backend, m, logger)

	handler := middleware.Chain(
		recovery.Default(logger),
		middleware.Logging(logger),
		factory.CreateRateLimitMiddleware(s.routes, s.store, m, logger),
	)(rt.Route)

	healthHandler := factory.CreateHealthHandler(s.registry, s.routes.Routes, s.store.Ping, Version)

	s.gateway = httpAdapter.New(httpAdapter.Config{
		Host:           g.Frontend.HTTP.Host,
		Port:           g.Frontend.HTTP.Port,
		ReadTimeout:    time.Duration(g.Frontend.HTTP.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(g.Frontend.HTTP.WriteTimeout) * time.Second,
		MaxRequestSize: g.Frontend.HTTP.MaxRequestSize,
	}, handler, logger).
		WithHealthHandler(healthHandler).
		WithTelemetry(s.telemetry)

	if g.Management.Enabled {
		s.management = management.NewAPI(management.Config{
			Host:        g.Management.Host,
			Port:        g.Management.Port,
			WatchBuffer: g.Registry.EventBuffer,
		}, s.registry, s.routes, logger).
			WithHealthHandler(healthHandler).
			WithMetrics(m, metricsHandler)
	}

	if b.configPath != "" {
		s.watcher, err = config.NewRouteWatcher(b.configPath, b.config, config.RouteWatcherOptions{
			Apply: s.applyRoutes,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating config watcher: %w", err)
		}
	}

	return s, nil
}
