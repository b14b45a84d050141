package factory

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"meshgate/internal/config"
	"meshgate/internal/core"
	"meshgate/internal/storage/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreateMetrics(t *testing.T) {
	if m, h := CreateMetrics(config.Metrics{}); m != nil || h != nil {
		t.Error("disabled metrics should be nil")
	}

	m, h := CreateMetrics(config.Metrics{Enabled: true})
	if m == nil || h == nil {
		t.Fatal("enabled metrics should not be nil")
	}
	m.RequestsTotal.WithLabelValues("orders", "GET", "completed", "200").Inc()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "gateway_requests_total") || !strings.Contains(body, "go_goroutines") {
		t.Error("metrics output missing gateway or runtime metrics")
	}

	// Each call owns its registry
	if m2, _ := CreateMetrics(config.Metrics{Enabled: true}); m2 == nil {
		t.Error("second registry should not conflict")
	}
}

func TestCreateLimiterStore(t *testing.T) {
	ctx := context.Background()

	store, err := CreateLimiterStore(ctx, config.RateLimit{Store: "memory"}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if _, ok := store.LimiterStore.(*memory.Store); !ok {
		t.Errorf("store = %T", store.LimiterStore)
	}
	if store.Ping != nil {
		t.Error("memory store has nothing to ping")
	}

	if _, err := CreateLimiterStore(ctx, config.RateLimit{Store: "etcd"}, discardLogger()); err == nil {
		t.Error("expected error for unknown store")
	}
	if _, err := CreateLimiterStore(ctx, config.RateLimit{Store: "redis"}, discardLogger()); err == nil {
		t.Error("expected error for redis without address")
	}
}

func TestCreateAuthenticator(t *testing.T) {
	a, err := CreateAuthenticator(nil, discardLogger())
	if err != nil || a != nil {
		t.Errorf("nil auth = %v, %v", a, err)
	}

	a, err = CreateAuthenticator(&config.Auth{JWT: config.JWT{SigningMethod: "HS256", Secret: "s3cret"}}, discardLogger())
	if err != nil || a == nil {
		t.Fatalf("HS256 auth = %v, %v", a, err)
	}

	if _, err := CreateAuthenticator(&config.Auth{JWT: config.JWT{SigningMethod: "HS256"}}, discardLogger()); err == nil {
		t.Error("expected error without secret")
	}
}

func TestCreateRouteTable(t *testing.T) {
	table := CreateRouteTable(config.Router{Routes: []config.Route{
		{ServiceName: "orders"},
		{ServiceName: "users", PathPrefix: "v1/users", RequireAuth: true, Timeout: 2},
	}}, discardLogger())

	orders, ok := table.Lookup("orders")
	if !ok || orders.PathPrefix != "/orders" {
		t.Errorf("orders = %+v", orders)
	}
	users, _ := table.Lookup("users")
	if users.PathPrefix != "/v1/users" || !users.RequireAuth || users.Timeout != 2*time.Second {
		t.Errorf("users = %+v", users)
	}
}

func TestUpstreamTimeout(t *testing.T) {
	if got := upstreamTimeout(config.Backend{}); got != 30*time.Second {
		t.Errorf("default = %v", got)
	}
	if got := upstreamTimeout(config.Backend{UpstreamTimeoutSeconds: 3}); got != 3*time.Second {
		t.Errorf("configured = %v", got)
	}
}

type emptyRegistry struct{}

func (emptyRegistry) HealthyInstances(string) []core.ServiceInstance { return nil }

func TestCreateHealthHandler(t *testing.T) {
	routes := func() []core.Route { return nil }
	h := CreateHealthHandler(emptyRegistry{}, routes, func(context.Context) error { return io.ErrClosedPipe }, "test")

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready with failing store = %d", rec.Code)
	}

	h = CreateHealthHandler(emptyRegistry{}, routes, nil, "test")
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("ready = %d", rec.Code)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCreateLogSink(t *testing.T) {
	sink, err := CreateLogSink(config.LogSink{}, slog.LevelInfo, nil)
	if err != nil || sink != nil {
		t.Errorf("disabled sink = %v, %v", sink, err)
	}

	sink, err = CreateLogSink(config.LogSink{Enabled: true, Endpoint: "http://127.0.0.1:1/logs"}, slog.LevelInfo, nil)
	if err != nil || sink == nil {
		t.Fatalf("enabled sink = %v, %v", sink, err)
	}
	sink.Close(context.Background())
}
