package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"meshgate/internal/backend"
	"meshgate/internal/core"
	"meshgate/internal/health"
	"meshgate/internal/middleware"
	"meshgate/internal/middleware/ratelimit"
	"meshgate/internal/middleware/recovery"
	"meshgate/internal/registry"
	"meshgate/internal/router"
	"meshgate/internal/storage"
	"meshgate/internal/storage/memory"
	gwerrors "meshgate/pkg/errors"
	"meshgate/pkg/requestid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serve(a *Adapter, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, r)
	return rec
}

func TestAdapter_RelaysResponse(t *testing.T) {
	var seen core.Request
	a := New(Config{}, func(ctx context.Context, req core.Request) (core.Response, error) {
		seen = req
		body, _ := io.ReadAll(req.Body())
		resp := core.NewResponse(http.StatusAccepted, body)
		resp.Headers()["X-Custom"] = []string{"v"}
		return resp, nil
	}, discardLogger())

	r := httptest.NewRequest(http.MethodPost, "/api/echo/x?y=1", strings.NewReader("hello"))
	r.Header.Set(requestid.Header, "caller-id")
	rec := serve(a, r)

	if rec.Code != http.StatusAccepted || rec.Body.String() != "hello" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Custom") != "v" {
		t.Error("response header not relayed")
	}
	if rec.Header().Get(requestid.Header) != "caller-id" {
		t.Errorf("request id = %q, caller's should be kept", rec.Header().Get(requestid.Header))
	}
	if seen.ID() != "caller-id" || seen.URL() != "/api/echo/x?y=1" {
		t.Errorf("request = %s %s", seen.ID(), seen.URL())
	}
	if requestid.FromContext(seen.Context()) != "caller-id" {
		t.Error("request id missing from context")
	}
}

func TestAdapter_ErrorBodies(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"unknown service", gwerrors.NewError(gwerrors.ErrorTypeUnknownService, "x"), 404, `{"error":"UnknownService"}`},
		{"unauthorized", gwerrors.NewError(gwerrors.ErrorTypeUnauthorized, "x"), 401, `{"error":"Unauthorized"}`},
		{"unavailable", gwerrors.NewError(gwerrors.ErrorTypeServiceUnavailable, "x"), 503, `{"error":"ServiceUnavailable"}`},
		{"unreachable", gwerrors.NewError(gwerrors.ErrorTypeUpstreamUnreachable, "x"), 502, `{"error":"UpstreamUnreachable"}`},
		{"timeout", gwerrors.NewError(gwerrors.ErrorTypeUpstreamTimeout, "x"), 504, `{"error":"UpstreamUnreachable"}`},
		{"plain error", io.ErrUnexpectedEOF, 500, `{"error":"InternalError"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(Config{}, func(context.Context, core.Request) (core.Response, error) {
				return nil, tt.err
			}, discardLogger())

			rec := serve(a, httptest.NewRequest(http.MethodGet, "/api/orders/1", nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %s, want %s", rec.Body.String(), tt.wantBody)
			}
			if rec.Header().Get("Content-Type") != "application/json" {
				t.Errorf("content type = %q", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestAdapter_RateLimitedSetsRetryAfter(t *testing.T) {
	a := New(Config{}, func(context.Context, core.Request) (core.Response, error) {
		return nil, gwerrors.NewError(gwerrors.ErrorTypeRateLimited, "slow down").WithDetail("retryAfter", 3)
	}, discardLogger())

	rec := serve(a, httptest.NewRequest(http.MethodGet, "/api/orders/1", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "3" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
}

func TestAdapter_MaxRequestSize(t *testing.T) {
	called := false
	a := New(Config{MaxRequestSize: 4}, func(context.Context, core.Request) (core.Response, error) {
		called = true
		return core.NewResponse(http.StatusOK, nil), nil
	}, discardLogger())

	rec := serve(a, httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader("too large")))
	if rec.Code != http.StatusRequestEntityTooLarge || called {
		t.Errorf("status = %d, handler called = %v", rec.Code, called)
	}
}

func TestAdapter_HealthEndpoints(t *testing.T) {
	a := New(Config{}, nil, discardLogger()).
		WithHealthHandler(health.NewHandler(health.NewChecker(), "test", "gw-1"))

	for _, path := range []string{"/health", "/ready", "/live"} {
		rec := serve(a, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}

	rec := serve(a, httptest.NewRequest(http.MethodGet, "/elsewhere", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unrouted path status = %d", rec.Code)
	}
}

func TestAdapter_StartStop(t *testing.T) {
	a := New(Config{Host: "127.0.0.1", Port: 0}, func(context.Context, core.Request) (core.Response, error) {
		return core.NewResponse(http.StatusOK, []byte("up")), nil
	}, discardLogger())

	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	resp, err := http.Get("http://" + a.Addr() + "/api/x/y")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "up" {
		t.Errorf("body = %q", body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

// gateway wires the real pipeline used by the gateway binary
type gateway struct {
	adapter  *Adapter
	registry *registry.Registry
}

func newGateway(t *testing.T, routes []core.Route) *gateway {
	t.Helper()
	return newGatewayWithConfig(t, Config{}, routes)
}

func newGatewayWithConfig(t *testing.T, cfg Config, routes []core.Route) *gateway {
	t.Helper()
	logger := discardLogger()

	launcher := health.NewLauncher(health.MonitorConfig{Interval: 20 * time.Millisecond, Timeout: 20 * time.Millisecond}, nil, nil, logger)
	reg := registry.New(registry.Options{UnhealthyThreshold: 1, Monitor: launcher.Run, Logger: logger})
	t.Cleanup(func() { reg.Close() })

	table := router.NewRouteTable(routes)
	rt := router.New(router.Options{
		Routes:    table,
		Selector:  router.NewRoundRobinSelector(reg),
		Connector: backend.NewHTTPConnector(&http.Client{}, time.Second, nil),
		Logger:    logger,
	})

	store := memory.NewStore(&storage.LimiterStoreConfig{})
	t.Cleanup(func() { store.Close() })

	handler := middleware.Chain(
		recovery.Default(logger),
		middleware.Logging(logger),
		ratelimit.PerRoute(&ratelimit.Config{Routes: table, Store: store, Logger: logger}),
	)(rt.Route)

	return &gateway{adapter: New(cfg, handler, logger), registry: reg}
}

func waitLive(t *testing.T, reg *registry.Registry, name string, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(reg.HealthyInstances(name)) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s never reached %d live instances", name, want)
}

func TestGateway_EndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
		case "/orders/42":
			if r.Header.Get(requestid.Header) == "" {
				t.Error("request id not forwarded")
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":42}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	gw := newGateway(t, []core.Route{{ServiceName: "orders", PathPrefix: "/orders"}})
	if _, err := gw.registry.Register(context.Background(), "orders", upstream.URL, upstream.URL+"/health"); err != nil {
		t.Fatal(err)
	}
	waitLive(t, gw.registry, "orders", 1)

	rec := serve(gw.adapter, httptest.NewRequest(http.MethodGet, "/api/orders/42", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var payload map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil || payload["id"] != 42 {
		t.Errorf("body = %s", rec.Body.String())
	}

	rec = serve(gw.adapter, httptest.NewRequest(http.MethodPost, "/api/unknown/foo", nil))
	if rec.Code != http.StatusNotFound || rec.Body.String() != `{"error":"UnknownService"}` {
		t.Errorf("unknown service: %d %s", rec.Code, rec.Body.String())
	}
}

func TestGateway_UpstreamTimeout(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			return
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	gw := newGateway(t, []core.Route{{ServiceName: "orders", PathPrefix: "/orders", Timeout: 100 * time.Millisecond}})
	gw.registry.Register(context.Background(), "orders", upstream.URL, upstream.URL+"/health")
	waitLive(t, gw.registry, "orders", 1)

	rec := serve(gw.adapter, httptest.NewRequest(http.MethodGet, "/api/orders/42", nil))
	if rec.Code != http.StatusGatewayTimeout || rec.Body.String() != `{"error":"UpstreamUnreachable"}` {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestGateway_ForwardsEscapedPath(t *testing.T) {
	var gotPath, gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			return
		}
		gotPath = r.URL.EscapedPath()
		gotQuery = r.URL.RawQuery
	}))
	defer upstream.Close()

	gw := newGateway(t, []core.Route{{ServiceName: "files", PathPrefix: "/files"}})
	gw.registry.Register(context.Background(), "files", upstream.URL, upstream.URL+"/health")
	waitLive(t, gw.registry, "files", 1)

	rec := serve(gw.adapter, httptest.NewRequest(http.MethodGet, "/api/files/a%2Fb?x=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if gotPath != "/files/a%2Fb" || gotQuery != "x=1" {
		t.Errorf("upstream saw %s?%s", gotPath, gotQuery)
	}
}

func TestGateway_StreamedBodyOverLimit(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.ReadAll(r.Body)
	}))
	defer upstream.Close()

	gw := newGatewayWithConfig(t, Config{MaxRequestSize: 8}, []core.Route{{ServiceName: "orders", PathPrefix: "/orders"}})
	gw.registry.Register(context.Background(), "orders", upstream.URL, upstream.URL)
	waitLive(t, gw.registry, "orders", 1)

	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(strings.Repeat("x", 64)))
	req.ContentLength = -1
	rec := serve(gw.adapter, req)
	if rec.Code != http.StatusRequestEntityTooLarge || rec.Body.String() != `{"error":"RequestTooLarge"}` {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestGateway_NoHealthyInstance(t *testing.T) {
	gw := newGateway(t, []core.Route{{ServiceName: "orders", PathPrefix: "/orders"}})

	rec := serve(gw.adapter, httptest.NewRequest(http.MethodGet, "/api/orders/42", nil))
	if rec.Code != http.StatusServiceUnavailable || rec.Body.String() != `{"error":"ServiceUnavailable"}` {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestGateway_EvictedInstanceIsNotRouted(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" && !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	gw := newGateway(t, []core.Route{{ServiceName: "orders", PathPrefix: "/orders"}})
	gw.registry.Register(context.Background(), "orders", upstream.URL, upstream.URL+"/health")
	waitLive(t, gw.registry, "orders", 1)

	healthy.Store(false)
	waitLive(t, gw.registry, "orders", 0)

	rec := serve(gw.adapter, httptest.NewRequest(http.MethodGet, "/api/orders/1", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, evicted instance must not be routed", rec.Code)
	}

	healthy.Store(true)
	waitLive(t, gw.registry, "orders", 1)
	rec = serve(gw.adapter, httptest.NewRequest(http.MethodGet, "/api/orders/1", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status after restore = %d", rec.Code)
	}
}

func TestGateway_RateLimitAndRecovery(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	gw := newGateway(t, []core.Route{{ServiceName: "orders", PathPrefix: "/orders", RateLimit: 1, RateLimitBurst: 1}})
	gw.registry.Register(context.Background(), "orders", upstream.URL, upstream.URL)
	waitLive(t, gw.registry, "orders", 1)

	first := serve(gw.adapter, httptest.NewRequest(http.MethodGet, "/api/orders/1", nil))
	second := serve(gw.adapter, httptest.NewRequest(http.MethodGet, "/api/orders/1", nil))
	if first.Code != http.StatusOK || second.Code != http.StatusTooManyRequests {
		t.Errorf("codes = %d, %d", first.Code, second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	panicking := New(Config{}, recovery.Default(discardLogger())(func(context.Context, core.Request) (core.Response, error) {
		panic("boom")
	}), discardLogger())
	rec := serve(panicking, httptest.NewRequest(http.MethodGet, "/api/orders/1", nil))
	if rec.Code != http.StatusInternalServerError || rec.Body.String() != `{"error":"InternalError"}` {
		t.Errorf("panic: %d %s", rec.Code, rec.Body.String())
	}
}
