package router

import (
	"fmt"
	"testing"
	"time"

	"meshgate/internal/core"
)

func TestRouteTable_LookupAndRoutes(t *testing.T) {
	table := NewRouteTable([]core.Route{
		{ServiceName: "users", PathPrefix: "/users"},
		{ServiceName: "orders", PathPrefix: "/orders", RequireAuth: true},
	})

	r, ok := table.Lookup("orders")
	if !ok || r.PathPrefix != "/orders" || !r.RequireAuth {
		t.Errorf("Lookup(orders) = %+v, %v", r, ok)
	}
	if _, ok := table.Lookup("payments"); ok {
		t.Error("unexpected route for payments")
	}

	routes := table.Routes()
	if len(routes) != 2 || routes[0].ServiceName != "orders" || routes[1].ServiceName != "users" {
		t.Errorf("Routes() = %+v", routes)
	}
}

func TestRouteTable_Replace(t *testing.T) {
	table := NewRouteTable([]core.Route{
		{ServiceName: "users", PathPrefix: "/users"},
		{ServiceName: "orders", PathPrefix: "/orders"},
	})

	diff := table.Replace([]core.Route{
		{ServiceName: "orders", PathPrefix: "/v2/orders"},
		{ServiceName: "products", PathPrefix: "/products", Timeout: time.Second},
	})

	if fmt.Sprint(diff.Added) != "[products]" || fmt.Sprint(diff.Removed) != "[users]" || fmt.Sprint(diff.Changed) != "[orders]" {
		t.Errorf("diff = %+v", diff)
	}
	if _, ok := table.Lookup("users"); ok {
		t.Error("removed route still present")
	}
	if r, _ := table.Lookup("orders"); r.PathPrefix != "/v2/orders" {
		t.Errorf("orders prefix = %s", r.PathPrefix)
	}

	if !table.Replace(table.Routes()).Empty() {
		t.Error("replacing with identical routes should report no change")
	}
}

func TestRouteTable_ConcurrentReplace(t *testing.T) {
	table := NewRouteTable([]core.Route{{ServiceName: "orders", PathPrefix: "/a"}})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 1000 {
			prefix := "/a"
			if i%2 == 1 {
				prefix = "/b"
			}
			table.Replace([]core.Route{{ServiceName: "orders", PathPrefix: prefix}})
		}
	}()

	for range 1000 {
		r, ok := table.Lookup("orders")
		if !ok || (r.PathPrefix != "/a" && r.PathPrefix != "/b") {
			t.Fatalf("torn read: %+v, %v", r, ok)
		}
	}
	<-done
}
