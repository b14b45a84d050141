package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"meshgate/internal/core"
	"meshgate/internal/telemetry"
	gwerrors "meshgate/pkg/errors"
	"meshgate/pkg/requestid"
)

// Adapter is the gateway's client facing HTTP surface. Requests under
// /api/ go through the gateway handler; /health, /ready and /live report
// the gateway's own state.
type Adapter struct {
	config        Config
	server        *http.Server
	listener      net.Listener
	handler       core.Handler
	healthHandler HealthHandler
	telemetry     *telemetry.Telemetry
	reqNum        atomic.Uint64
	logger        *slog.Logger

	muxOnce sync.Once
	mux     http.Handler
}

// HealthHandler handles health check requests
type HealthHandler interface {
	Health(w http.ResponseWriter, r *http.Request)
	Ready(w http.ResponseWriter, r *http.Request)
	Live(w http.ResponseWriter, r *http.Request)
}

// New creates a new HTTP adapter
func New(cfg Config, handler core.Handler, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		config:    cfg,
		handler:   handler,
		telemetry: telemetry.Noop(),
		logger:    logger.With("component", "http"),
	}
}

// WithHealthHandler sets the health handler
func (a *Adapter) WithHealthHandler(handler HealthHandler) *Adapter {
	a.healthHandler = handler
	return a
}

// WithTelemetry enables server spans for gateway requests
func (a *Adapter) WithTelemetry(t *telemetry.Telemetry) *Adapter {
	if t != nil {
		a.telemetry = t
	}
	return a
}

// Handler returns the adapter's root handler
func (a *Adapter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(core.GatewayPathPrefix, a.telemetry.WrapHTTP(http.HandlerFunc(a.serveGateway)))
	if a.healthHandler != nil {
		mux.HandleFunc("GET /health", a.healthHandler.Health)
		mux.HandleFunc("GET /ready", a.healthHandler.Ready)
		mux.HandleFunc("GET /live", a.healthHandler.Live)
	}
	return mux
}

// Start binds the listener and serves in the background
func (a *Adapter) Start(ctx context.Context) error {
	addr := net.JoinHostPort(a.config.Host, strconv.Itoa(a.config.Port))

	a.server = &http.Server{
		Addr:         addr,
		Handler:      a,
		ReadTimeout:  a.config.ReadTimeout,
		WriteTimeout: a.config.WriteTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	// Bind first so address errors surface here
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to %s: %w", addr, err)
	}
	a.listener = listener
	a.logger.Info("Starting gateway server", "addr", listener.Addr().String())

	go func() {
		if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start
func (a *Adapter) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Stop gracefully stops the server
func (a *Adapter) Stop(ctx context.Context) error {
	if a.server == nil {
		return nil
	}

	a.logger.Info("Stopping gateway server", "requests", a.reqNum.Load())
	return a.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler. Handlers set with With* after the
// first request are not picked up.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.muxOnce.Do(func() { a.mux = a.Handler() })
	a.mux.ServeHTTP(w, r)
}

func (a *Adapter) serveGateway(w http.ResponseWriter, r *http.Request) {
	a.reqNum.Add(1)

	reqID := requestid.FromHeaders(r.Header)
	w.Header().Set(requestid.Header, reqID)

	if a.config.MaxRequestSize > 0 {
		if r.ContentLength > a.config.MaxRequestSize {
			a.logger.Warn("Request body too large",
				"request_id", reqID,
				"content_length", r.ContentLength,
				"max_size", a.config.MaxRequestSize,
			)
			writeJSONError(w, http.StatusRequestEntityTooLarge, "RequestTooLarge")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxRequestSize)
	}

	ctx := requestid.WithContext(r.Context(), reqID)
	req := core.FromHTTP(reqID, r.WithContext(ctx))
	if r.TLS != nil {
		req.Headers()["X-Forwarded-Proto"] = []string{"https"}
	}

	resp, err := a.handler(ctx, req)
	if err != nil {
		a.handleError(w, reqID, err)
		return
	}
	a.writeResponse(w, reqID, resp)
}

// writeResponse relays status, headers and body unchanged
func (a *Adapter) writeResponse(w http.ResponseWriter, reqID string, resp core.Response) {
	for k, values := range resp.Headers() {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode())

	body := resp.Body()
	if body == nil {
		return
	}
	defer body.Close()
	if _, err := io.Copy(w, body); err != nil {
		// Headers are already sent
		a.logger.Warn("Failed to copy response body", "request_id", reqID, "error", err)
	}
}

// handleError writes {"error": code} with the status of the error type
func (a *Adapter) handleError(w http.ResponseWriter, reqID string, err error) {
	var gwErr *gwerrors.Error
	if !errors.As(err, &gwErr) {
		a.logger.Error("Request failed", "request_id", reqID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "InternalError")
		return
	}

	if gwErr.Type == gwerrors.ErrorTypeRateLimited {
		if ra, ok := gwErr.Details["retryAfter"].(int); ok {
			w.Header().Set("Retry-After", strconv.Itoa(ra))
		}
	}
	if gwErr.Type == gwerrors.ErrorTypeInternal {
		a.logger.Error("Request failed", "request_id", reqID, "error", gwErr.Error(), "details", gwErr.Details)
	}
	writeJSONError(w, gwErr.HTTPStatusCode(), gwErr.Code())
}

func writeJSONError(w http.ResponseWriter, status int, code string) {
	body, _ := json.Marshal(map[string]string{"error": code})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
