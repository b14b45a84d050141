package router

import (
	"slices"
	"strings"
	"sync/atomic"

	"meshgate/internal/core"
)

// RouteTable maps service names to routes. Reads are lock free; Replace
// swaps the whole table at once so a request never sees a partial reload.
type RouteTable struct {
	routes atomic.Pointer[map[string]core.Route]
}

// RouteDiff lists the service names changed by a Replace
type RouteDiff struct {
	Added   []string
	Removed []string
	Changed []string
}

// Empty reports whether the replace changed nothing
func (d RouteDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// NewRouteTable creates a table holding routes
func NewRouteTable(routes []core.Route) *RouteTable {
	t := &RouteTable{}
	t.Replace(routes)
	return t
}

// Lookup returns the route for a service name
func (t *RouteTable) Lookup(name string) (core.Route, bool) {
	r, ok := (*t.routes.Load())[name]
	return r, ok
}

// Replace installs routes as the new table. Later duplicates win.
func (t *RouteTable) Replace(routes []core.Route) RouteDiff {
	next := make(map[string]core.Route, len(routes))
	for _, r := range routes {
		next[r.ServiceName] = r
	}

	prev := t.routes.Swap(&next)

	var diff RouteDiff
	if prev == nil {
		for name := range next {
			diff.Added = append(diff.Added, name)
		}
		slices.Sort(diff.Added)
		return diff
	}
	for name, r := range next {
		old, ok := (*prev)[name]
		switch {
		case !ok:
			diff.Added = append(diff.Added, name)
		case old != r:
			diff.Changed = append(diff.Changed, name)
		}
	}
	for name := range *prev {
		if _, ok := next[name]; !ok {
			diff.Removed = append(diff.Removed, name)
		}
	}
	slices.Sort(diff.Added)
	slices.Sort(diff.Removed)
	slices.Sort(diff.Changed)
	return diff
}

// Routes returns all routes sorted by service name
func (t *RouteTable) Routes() []core.Route {
	m := *t.routes.Load()
	out := make([]core.Route, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b core.Route) int {
		return strings.Compare(a.ServiceName, b.ServiceName)
	})
	return out
}
