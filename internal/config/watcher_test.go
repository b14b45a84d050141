package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"meshgate/internal/core"
)

const watchedConfig = `
gateway:
  frontend:
    http:
      port: 8080
  router:
    routes:
      - serviceName: orders
`

type appliedRoutes struct {
	mu    sync.Mutex
	calls [][]core.Route
}

func (a *appliedRoutes) apply(routes []core.Route) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, routes)
}

func (a *appliedRoutes) snapshot() [][]core.Route {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]core.Route(nil), a.calls...)
}

func newTestWatcher(t *testing.T, initial string) (*RouteWatcher, *appliedRoutes, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatal(err)
	}
	boot, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	applied := &appliedRoutes{}
	w, err := NewRouteWatcher(path, boot, RouteWatcherOptions{Debounce: 50 * time.Millisecond, Apply: applied.apply},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	w.Start()
	t.Cleanup(func() { w.Stop() })
	return w, applied, path
}

func waitStatus(t *testing.T, w *RouteWatcher, done func(ReloadStatus) bool) ReloadStatus {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s := w.Status(); done(s) {
			return s
		}
		time.Sleep(10 * time.Millisecond)
	}
	s := w.Status()
	t.Fatalf("watcher status never settled: %+v", s)
	return s
}

func TestRouteWatcher_AppliesEditedRoutes(t *testing.T) {
	w, applied, path := newTestWatcher(t, watchedConfig)

	updated := watchedConfig + `      - serviceName: users
        pathPrefix: /v1/users
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, w, func(s ReloadStatus) bool { return s.Applied >= 1 })

	calls := applied.snapshot()
	routes := calls[len(calls)-1]
	if len(routes) != 2 || routes[1].ServiceName != "users" || routes[1].PathPrefix != "/v1/users" {
		t.Errorf("applied routes = %+v", routes)
	}
}

func TestRouteWatcher_DebouncesBursts(t *testing.T) {
	w, applied, path := newTestWatcher(t, watchedConfig)

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte(watchedConfig), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	waitStatus(t, w, func(s ReloadStatus) bool { return s.Applied >= 1 })
	time.Sleep(200 * time.Millisecond)

	if n := len(applied.snapshot()); n != 1 {
		t.Errorf("applied %d times, want 1", n)
	}
}

func TestRouteWatcher_FollowsRenameReplace(t *testing.T) {
	w, applied, path := newTestWatcher(t, watchedConfig)

	tmp := path + ".tmp"
	updated := watchedConfig + "      - serviceName: products\n"
	if err := os.WriteFile(tmp, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, w, func(s ReloadStatus) bool { return s.Applied >= 1 })

	calls := applied.snapshot()
	if routes := calls[len(calls)-1]; len(routes) != 2 {
		t.Errorf("applied routes = %+v", routes)
	}
}

func TestRouteWatcher_RejectsMalformedRoutes(t *testing.T) {
	tests := []struct {
		name   string
		routes string
	}{
		{"duplicate service", "      - serviceName: orders\n      - serviceName: orders\n"},
		{"empty service name", "      - pathPrefix: /x\n"},
		{"prefix with dot segment", "      - serviceName: orders\n        pathPrefix: /a/../b\n"},
		{"not yaml", "      - serviceName: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, applied, path := newTestWatcher(t, watchedConfig)

			broken := "gateway:\n  frontend:\n    http:\n      port: 8080\n  router:\n    routes:\n" + tt.routes
			if err := os.WriteFile(path, []byte(broken), 0o644); err != nil {
				t.Fatal(err)
			}
			s := waitStatus(t, w, func(s ReloadStatus) bool { return s.Rejected >= 1 })
			if s.LastErr == nil {
				t.Error("rejected reload should keep its error")
			}
			if n := len(applied.snapshot()); n != 0 {
				t.Errorf("malformed routes applied %d times", n)
			}

			if err := os.WriteFile(path, []byte(watchedConfig), 0o644); err != nil {
				t.Fatal(err)
			}
			s = waitStatus(t, w, func(s ReloadStatus) bool { return s.Applied >= 1 })
			if s.LastErr != nil {
				t.Errorf("LastErr = %v after a good reload", s.LastErr)
			}
		})
	}
}

func TestRouteWatcher_StopWithoutStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(watchedConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := NewRouteWatcher(path, nil, RouteWatcherOptions{Apply: func([]core.Route) {}}, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		w.Stop()
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a watcher that never started")
	}
}

func TestRestartOnly(t *testing.T) {
	old := &Config{}
	old.Gateway.Frontend.HTTP.Port = 8080
	old.Gateway.Router.Routes = []Route{{ServiceName: "orders"}}

	next := &Config{}
	next.Gateway.Frontend.HTTP.Port = 9090
	next.Gateway.Router.Routes = []Route{{ServiceName: "users"}}
	next.Gateway.Auth = &Auth{}

	got := restartOnly(old, next)
	if len(got) != 2 || got[0] != "frontend" || got[1] != "auth" {
		t.Errorf("restartOnly() = %v, want [frontend auth]", got)
	}
	if got := restartOnly(nil, next); got != nil {
		t.Errorf("restartOnly(nil) = %v", got)
	}
}
