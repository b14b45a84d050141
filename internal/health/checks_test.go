package health

import (
	"context"
	"errors"
	"strings"
	"testing"

	"meshgate/internal/core"
)

type staticRegistry map[string][]core.ServiceInstance

func (s staticRegistry) HealthyInstances(name string) []core.ServiceInstance {
	return s[name]
}

func TestRouteCoverageCheck(t *testing.T) {
	registry := staticRegistry{
		"orders": {{ID: "a", Name: "orders"}},
	}
	routes := []core.Route{{ServiceName: "orders"}}
	check := RouteCoverageCheck(registry, func() []core.Route { return routes })

	if err := check(context.Background()); err != nil {
		t.Errorf("Expected no error when every route has a live instance, got %v", err)
	}

	routes = append(routes, core.Route{ServiceName: "users"})
	err := check(context.Background())
	if !errors.Is(err, ErrDegraded) {
		t.Fatalf("Expected degraded error, got %v", err)
	}
	if !strings.Contains(err.Error(), "users") {
		t.Errorf("Expected error to name the uncovered service, got %v", err)
	}
}

func TestPingCheck(t *testing.T) {
	ok := PingCheck(func(context.Context) error { return nil })
	if err := ok(context.Background()); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	failing := PingCheck(func(context.Context) error { return errors.New("connection refused") })
	if err := failing(context.Background()); err == nil || errors.Is(err, ErrDegraded) {
		t.Errorf("Expected plain failure, got %v", err)
	}
}

func TestChecker_Degraded(t *testing.T) {
	checker := NewChecker()
	checker.RegisterCheck("routes", func(ctx context.Context) error {
		return errors.Join(ErrDegraded, errors.New("no live instances for orders"))
	})
	checker.RegisterCheck("store", func(ctx context.Context) error { return nil })

	results := checker.CheckHealth(context.Background())
	if results["routes"].Status != StatusDegraded {
		t.Errorf("Expected degraded result, got %s", results["routes"].Status)
	}
	if got := Overall(results); got != StatusDegraded {
		t.Errorf("Overall() = %s, want degraded", got)
	}

	checker.RegisterCheck("store", func(ctx context.Context) error { return errors.New("down") })
	if got := Overall(checker.CheckHealth(context.Background())); got != StatusUnhealthy {
		t.Errorf("Overall() = %s, want unhealthy", got)
	}
}
