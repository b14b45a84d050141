package management

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"meshgate/internal/core"
	"meshgate/internal/metrics"
	"meshgate/internal/middleware/recovery"
	"meshgate/internal/registry"
	gwerrors "meshgate/pkg/errors"
)

// maxRegisterBody bounds POST /register payloads
const maxRegisterBody = 64 << 10

// Config configures the management listener
type Config struct {
	Host string
	Port int
	// WatchBuffer is the per-subscriber event buffer of /registry/watch
	WatchBuffer int
	// PingPeriod is how often /registry/watch pings idle clients
	PingPeriod time.Duration
}

// Registry is the registry surface the management API drives
type Registry interface {
	Register(ctx context.Context, name, address, healthCheckAddress string, opts ...registry.RegisterOption) (string, error)
	Deregister(instanceID string) error
	Services() []string
	Instances(name string) []core.ServiceInstance
	Subscribe(buffer int) (<-chan core.HealthEvent, func())
}

// RouteSource exposes the active route table
type RouteSource interface {
	Routes() []core.Route
}

// HealthHandler serves the gateway's own health
type HealthHandler interface {
	Health(w http.ResponseWriter, r *http.Request)
	Ready(w http.ResponseWriter, r *http.Request)
	Live(w http.ResponseWriter, r *http.Request)
}

// API serves registration, inspection and observability endpoints on a
// listener separate from client traffic.
type API struct {
	config   Config
	registry Registry
	routes   RouteSource
	health   HealthHandler
	metrics  *metrics.Metrics
	gatherer http.Handler
	upgrader websocket.Upgrader
	logger   *slog.Logger

	server   *http.Server
	listener net.Listener
}

// NewAPI creates the management API
func NewAPI(cfg Config, reg Registry, routes RouteSource, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WatchBuffer <= 0 {
		cfg.WatchBuffer = 64
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = 30 * time.Second
	}

	api := &API{
		config:   cfg,
		registry: reg,
		routes:   routes,
		logger:   logger.With("component", "management"),
	}
	api.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			api.logger.Warn("Watch upgrade failed", "status", status, "error", reason, "remote", r.RemoteAddr)
			http.Error(w, reason.Error(), status)
		},
	}
	return api
}

// WithHealthHandler serves /healthz, /readyz and /health from h
func (api *API) WithHealthHandler(h HealthHandler) *API {
	api.health = h
	return api
}

// WithMetrics serves /metrics from handler and counts watch subscribers in m
func (api *API) WithMetrics(m *metrics.Metrics, handler http.Handler) *API {
	api.metrics = m
	api.gatherer = handler
	return api
}

// Handler returns the management routes wrapped in panic recovery
func (api *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", api.handleRegister)
	mux.HandleFunc("DELETE /register/{instanceId}", api.handleDeregister)
	mux.HandleFunc("GET /services", api.handleServices)
	mux.HandleFunc("GET /services/{name}", api.handleService)
	mux.HandleFunc("GET /routes", api.handleRoutes)
	mux.HandleFunc("GET /registry/watch", api.handleWatch)

	if api.health != nil {
		mux.HandleFunc("GET /healthz", api.health.Live)
		mux.HandleFunc("GET /readyz", api.health.Ready)
		mux.HandleFunc("GET /health", api.health.Health)
	} else {
		mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
			api.writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
		})
	}
	if api.gatherer != nil {
		mux.Handle("GET /metrics", api.gatherer)
	}

	return recovery.HTTP(recovery.Config{StackTrace: true}, api.logger)(mux)
}

// Start binds the listener and serves in the background
func (api *API) Start(ctx context.Context) error {
	addr := net.JoinHostPort(api.config.Host, strconv.Itoa(api.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind management listener to %s: %w", addr, err)
	}
	api.listener = listener
	api.server = &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	api.logger.Info("Starting management API", "addr", listener.Addr().String())
	go func() {
		if err := api.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			api.logger.Error("Management API error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start
func (api *API) Addr() string {
	if api.listener == nil {
		return ""
	}
	return api.listener.Addr().String()
}

// Stop gracefully stops the management API. Watch streams are
// hijacked connections and end when the registry closes.
func (api *API) Stop(ctx context.Context) error {
	if api.server == nil {
		return nil
	}
	api.logger.Info("Stopping management API")
	return api.server.Shutdown(ctx)
}

type registerRequest struct {
	Name               string            `json:"name"`
	Address            string            `json:"address"`
	HealthCheckAddress string            `json:"healthCheckAddress"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

type registerResponse struct {
	InstanceID string `json:"instanceId"`
}

func (api *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRegisterBody)).Decode(&req); err != nil {
		api.writeError(w, gwerrors.NewError(gwerrors.ErrorTypeBadRequest, "invalid registration body").WithCause(err))
		return
	}

	id, err := api.registry.Register(r.Context(), req.Name, req.Address, req.HealthCheckAddress,
		registry.WithMetadata(req.Metadata))
	if err != nil {
		api.writeError(w, err)
		return
	}
	api.writeJSON(w, http.StatusOK, registerResponse{InstanceID: id})
}

func (api *API) handleDeregister(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("instanceId")
	if err := api.registry.Deregister(id); err != nil {
		api.writeError(w, err)
		return
	}
	api.writeJSON(w, http.StatusOK, registerResponse{InstanceID: id})
}

// ServiceSummary is one entry of GET /services
type ServiceSummary struct {
	Name      string `json:"name"`
	Instances int    `json:"instances"`
	Live      int    `json:"live"`
	Evicted   int    `json:"evicted"`
}

// ServiceDetail is the body of GET /services/{name}
type ServiceDetail struct {
	Name      string                 `json:"name"`
	Instances []core.ServiceInstance `json:"instances"`
}

func (api *API) handleServices(w http.ResponseWriter, r *http.Request) {
	names := api.registry.Services()
	out := make([]ServiceSummary, 0, len(names))
	for _, name := range names {
		s := ServiceSummary{Name: name}
		for _, inst := range api.registry.Instances(name) {
			s.Instances++
			if inst.Live {
				s.Live++
			}
			if inst.Evicted {
				s.Evicted++
			}
		}
		out = append(out, s)
	}
	api.writeJSON(w, http.StatusOK, out)
}

func (api *API) handleService(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	instances := api.registry.Instances(name)
	if len(instances) == 0 {
		api.writeError(w, gwerrors.NewError(gwerrors.ErrorTypeUnknownService, "no instances registered").
			WithDetail("service", name))
		return
	}
	api.writeJSON(w, http.StatusOK, ServiceDetail{Name: name, Instances: instances})
}

func (api *API) handleRoutes(w http.ResponseWriter, r *http.Request) {
	routes := []core.Route{}
	if api.routes != nil {
		routes = api.routes.Routes()
	}
	api.writeJSON(w, http.StatusOK, routes)
}

func (api *API) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		api.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError writes {"error": code} using the status of a gateway error
// and 500 for anything else
func (api *API) writeError(w http.ResponseWriter, err error) {
	var gwErr *gwerrors.Error
	if !errors.As(err, &gwErr) {
		api.logger.Error("Management request failed", "error", err)
		api.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "InternalError"})
		return
	}

	body := map[string]string{"error": gwErr.Code()}
	if gwErr.Type == gwerrors.ErrorTypeBadRequest {
		body["message"] = gwErr.Message
	}
	api.writeJSON(w, gwErr.HTTPStatusCode(), body)
}
