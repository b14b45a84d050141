package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	httpAdapter "meshgate/internal/adapter/http"
	"meshgate/internal/app/factory"
	"meshgate/internal/config"
	"meshgate/internal/core"
	"meshgate/internal/logsink"
	"meshgate/internal/management"
	"meshgate/internal/metrics"
	"meshgate/internal/registry"
	"meshgate/internal/router"
	"meshgate/internal/telemetry"
)

// Server is the assembled gateway: the client facing listener, the
// management listener and everything they share.
type Server struct {
	gateway    *httpAdapter.Adapter
	management *management.API
	registry   *registry.Registry
	routes     *router.RouteTable
	selector   serviceForgetter
	store      *factory.LimiterStore
	telemetry  *telemetry.Telemetry
	metrics    *metrics.Metrics
	sink       *logsink.Sink
	watcher    *config.RouteWatcher
	logger     *slog.Logger

	eventsDone   chan struct{}
	cancelEvents func()
	stopOnce     sync.Once
	stopErr      error
}

// serviceForgetter drops per-service selection state
type serviceForgetter interface {
	Forget(name string)
}

// NewServer creates a new gateway server
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	return NewBuilder(cfg, logger).Build(ctx)
}

// Start binds both listeners and returns once they accept connections.
// If either fails to bind, the other is stopped again and the caller
// should Stop the server.
func (s *Server) Start(ctx context.Context) error {
	// In-flight requests must outlive ctx so Stop can drain them
	serveCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.Go(func() error {
		if err := s.gateway.Start(serveCtx); err != nil {
			return fmt.Errorf("gateway server: %w", err)
		}
		return nil
	})
	if s.management != nil {
		g.Go(func() error {
			if err := s.management.Start(serveCtx); err != nil {
				return fmt.Errorf("management server: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.stopListeners(serveCtx)
		return err
	}

	events, cancel := s.registry.Subscribe(0)
	s.cancelEvents = cancel
	s.eventsDone = make(chan struct{})
	go s.forgetDrainedServices(events)

	if s.watcher != nil {
		s.watcher.Start()
	}

	s.logger.Info("Gateway started",
		"gateway", s.gateway.Addr(),
		"management", s.ManagementAddr(),
	)
	return nil
}

// Run starts the server and blocks until ctx is cancelled, then stops it
// within stopCtx's deadline
func (s *Server) Run(ctx context.Context, stopCtx func() (context.Context, context.CancelFunc)) error {
	if err := s.Start(ctx); err != nil {
		s.Stop(context.Background())
		return err
	}
	<-ctx.Done()

	sctx, cancel := stopCtx()
	defer cancel()
	return s.Stop(sctx)
}

// GatewayAddr returns the bound client facing address
func (s *Server) GatewayAddr() string {
	return s.gateway.Addr()
}

// ManagementAddr returns the bound management address, or "" when the
// management API is disabled
func (s *Server) ManagementAddr() string {
	if s.management == nil {
		return ""
	}
	return s.management.Addr()
}

// Registry returns the server's registry
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Stop drains both listeners, then stops monitors and releases shared
// resources. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		err := s.stopListeners(ctx)
		s.stopErr = errors.Join(err, s.release(ctx))
		if s.stopErr == nil {
			s.logger.Info("Gateway stopped")
		}
	})
	return s.stopErr
}

func (s *Server) stopListeners(ctx context.Context) error {
	var g errgroup.Group
	if s.gateway != nil {
		g.Go(func() error {
			if err := s.gateway.Stop(ctx); err != nil {
				return fmt.Errorf("stopping gateway server: %w", err)
			}
			return nil
		})
	}
	if s.management != nil {
		g.Go(func() error {
			if err := s.management.Stop(ctx); err != nil {
				return fmt.Errorf("stopping management server: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// release stops background work and closes shared resources. The log sink
// goes last so shutdown logs are shipped.
func (s *Server) release(ctx context.Context) error {
	var errs []error
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping config watcher: %w", err))
		}
	}
	if s.cancelEvents != nil {
		s.cancelEvents()
		<-s.eventsDone
	}
	if s.registry != nil {
		if err := s.registry.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing registry: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing rate limit store: %w", err))
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down telemetry: %w", err))
		}
	}
	if s.sink != nil {
		if err := s.sink.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flushing log sink: %w", err))
		}
	}
	return errors.Join(errs...)
}

// applyRoutes swaps the route table for routes reloaded from the config
// file
func (s *Server) applyRoutes(routes []core.Route) {
	diff := s.routes.Replace(routes)
	if diff.Empty() {
		s.logger.Info("Route table unchanged")
		return
	}
	s.logger.Info("Route table reloaded",
		"added", diff.Added,
		"removed", diff.Removed,
		"changed", diff.Changed,
	)
}

// forgetDrainedServices drops selector state for services whose last
// instance was deregistered
func (s *Server) forgetDrainedServices(events <-chan core.HealthEvent) {
	defer close(s.eventsDone)
	for event := range events {
		if event.Type != core.EventDeregistered {
			continue
		}
		name := event.Instance.Name
		if len(s.registry.Instances(name)) == 0 {
			s.selector.Forget(name)
		}
	}
}
