package router

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"meshgate/internal/backend"
	"meshgate/internal/core"
	"meshgate/internal/metrics"
	"meshgate/internal/middleware/auth"
	"meshgate/internal/telemetry"
	"meshgate/pkg/errors"
)

// unknownServiceLabel keeps arbitrary client supplied names out of
// metric labels
const unknownServiceLabel = "_unknown"

// InstanceSelector picks live instances, optionally avoiding one
type InstanceSelector interface {
	Select(name string) (*core.ServiceInstance, error)
	SelectExcept(name, exclude string) (*core.ServiceInstance, error)
}

// Options configures a Router
type Options struct {
	Routes    *RouteTable
	Selector  InstanceSelector
	Connector core.Connector
	// Authenticator verifies callers of routes that require auth. Nil
	// rejects every such request.
	Authenticator *auth.Authenticator
	// RetryOnConnectError retries a bodiless request once against another
	// instance when the first could not be connected to
	RetryOnConnectError bool
	Metrics             *metrics.Metrics
	Logger              *slog.Logger
}

// Router resolves /api/{service}/{subpath} requests to a live instance
// and relays the upstream response. It never changes registry state.
type Router struct {
	routes        *RouteTable
	selector      InstanceSelector
	connector     core.Connector
	authenticator *auth.Authenticator
	retry         bool
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// New creates a router
func New(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		routes:        opts.Routes,
		selector:      opts.Selector,
		connector:     opts.Connector,
		authenticator: opts.Authenticator,
		retry:         opts.RetryOnConnectError,
		metrics:       opts.Metrics,
		logger:        logger.With("component", "router"),
	}
}

// exchange tracks one request through the routing states
type exchange struct {
	ctx     context.Context
	req     core.Request
	service string
	state   core.RequestState
	start   time.Time
}

func (e *exchange) advance(state core.RequestState) {
	e.state = state
	telemetry.AddEvent(e.ctx, "gateway.state", attribute.String("state", state.String()))
}

// Route handles one gateway request. It is a core.Handler.
func (r *Router) Route(ctx context.Context, req core.Request) (core.Response, error) {
	ex := &exchange{ctx: ctx, req: req, service: unknownServiceLabel, state: core.StateReceived, start: time.Now()}

	resp, err := r.route(ex)
	r.finish(ex, resp, err)
	return resp, err
}

func (r *Router) route(ex *exchange) (core.Response, error) {
	ctx, req := ex.ctx, ex.req

	name, subpath, ok := core.ParseGatewayPath(req.Path())
	if !ok {
		ex.advance(core.StateRejected)
		return nil, errors.NewError(errors.ErrorTypeUnknownService, "missing service name").
			WithDetail("path", req.Path())
	}

	route, ok := r.routes.Lookup(name)
	if !ok {
		ex.advance(core.StateRejected)
		return nil, errors.NewError(errors.ErrorTypeUnknownService, "no route for service").
			WithDetail("service", name)
	}
	ex.service = name
	ex.advance(core.StateValidated)
	telemetry.SetAttributes(ctx, attribute.String("gateway.service", name))

	if route.RequireAuth {
		v, err := r.authenticator.Authenticate(ctx, req.Headers())
		if err != nil {
			ex.advance(core.StateRejected)
			return nil, err
		}
		ctx = auth.WithVerification(ctx, v)
		ex.ctx = ctx
	}
	ex.advance(core.StateAuthorized)

	if r.metrics != nil {
		r.metrics.ActiveRequests.WithLabelValues(name).Inc()
		defer r.metrics.ActiveRequests.WithLabelValues(name).Dec()
	}

	instance, err := r.selector.Select(name)
	if err != nil {
		ex.advance(core.StateFailed)
		return nil, unavailable(name, err)
	}
	ex.advance(core.StateInstanceSelected)

	target := &core.ForwardTarget{
		Instance: instance,
		Route:    &route,
		Subpath:  subpath,
		Timeout:  route.Timeout,
	}

	resp, err := r.forward(ctx, req, target)
	if err != nil && r.retry && backend.IsConnectError(err) && bodiless(req) {
		next, selErr := r.selector.SelectExcept(name, instance.ID)
		if selErr == nil {
			r.logger.Info("Retrying on another instance",
				"service", name,
				"failed_instance", instance.ID,
				"instance", next.ID,
				"error", err,
			)
			if r.metrics != nil {
				r.metrics.UpstreamRetries.WithLabelValues(name).Inc()
			}
			target.Instance = next
			resp, err = r.forward(ctx, req, target)
		}
	}
	if err != nil {
		if stderrors.Is(err, errors.ErrRequestTooLarge) {
			ex.advance(core.StateRejected)
		} else {
			ex.advance(core.StateFailed)
		}
		return nil, err
	}

	ex.advance(core.StateForwarded)
	ex.advance(core.StateCompleted)
	return resp, nil
}

// forward performs one upstream attempt and records its metrics
func (r *Router) forward(ctx context.Context, req core.Request, target *core.ForwardTarget) (core.Response, error) {
	telemetry.SetAttributes(ctx, attribute.String("gateway.instance", target.Instance.ID))

	start := time.Now()
	resp, err := r.connector.Forward(ctx, req, target)
	if r.metrics == nil {
		return resp, err
	}

	service, id := target.Instance.Name, target.Instance.ID
	r.metrics.UpstreamRequestDuration.WithLabelValues(service, id).Observe(time.Since(start).Seconds())
	if err != nil {
		errType := string(errors.ErrorTypeInternal)
		var gwErr *errors.Error
		if stderrors.As(err, &gwErr) {
			errType = string(gwErr.Type)
		}
		r.metrics.UpstreamErrors.WithLabelValues(service, id, errType).Inc()
		return resp, err
	}
	r.metrics.UpstreamRequestsTotal.WithLabelValues(service, id, strconv.Itoa(resp.StatusCode())).Inc()
	return resp, err
}

// finish logs and records the terminal state
func (r *Router) finish(ex *exchange, resp core.Response, err error) {
	status := http.StatusInternalServerError
	switch {
	case err != nil:
		var gwErr *errors.Error
		if stderrors.As(err, &gwErr) {
			status = gwErr.HTTPStatusCode()
		}
	case resp != nil:
		status = resp.StatusCode()
	}
	duration := time.Since(ex.start)

	if r.metrics != nil {
		code := strconv.Itoa(status)
		r.metrics.RequestsTotal.WithLabelValues(ex.service, ex.req.Method(), ex.state.String(), code).Inc()
		r.metrics.RequestDuration.WithLabelValues(ex.service, ex.req.Method(), code).Observe(duration.Seconds())
	}

	if err != nil {
		telemetry.RecordError(ex.ctx, err)
	}
	r.logger.Debug("Request routed",
		"id", ex.req.ID(),
		"service", ex.service,
		"state", ex.state.String(),
		"status", status,
		"duration", duration,
		"principal", auth.Principal(ex.ctx),
	)
}

// unavailable turns a selection failure into the 503 clients see
func unavailable(service string, err error) error {
	return errors.NewError(errors.ErrorTypeServiceUnavailable, "no healthy instance").
		WithCause(err).
		WithDetail("service", service)
}

// bodiless reports whether req can be replayed. A request body is
// consumed by the first attempt.
func bodiless(req core.Request) bool {
	body := req.Body()
	return body == nil || body == http.NoBody
}
