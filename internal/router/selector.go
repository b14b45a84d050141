package router

import (
	"sync"
	"sync/atomic"

	"meshgate/internal/core"
	"meshgate/pkg/errors"
)

// RoundRobinSelector rotates over the live set of each service. The
// index is always cursor mod the size of the snapshot being read, so a
// shrinking live set can never yield an out of range or removed instance.
type RoundRobinSelector struct {
	registry core.ServiceRegistry
	cursors  sync.Map // service name -> *atomic.Uint64
}

var _ core.Selector = (*RoundRobinSelector)(nil)

// NewRoundRobinSelector creates a selector reading from registry
func NewRoundRobinSelector(registry core.ServiceRegistry) *RoundRobinSelector {
	return &RoundRobinSelector{registry: registry}
}

func (s *RoundRobinSelector) cursor(name string) *atomic.Uint64 {
	if c, ok := s.cursors.Load(name); ok {
		return c.(*atomic.Uint64)
	}
	c, _ := s.cursors.LoadOrStore(name, new(atomic.Uint64))
	return c.(*atomic.Uint64)
}

// Select returns the next live instance of name
func (s *RoundRobinSelector) Select(name string) (*core.ServiceInstance, error) {
	return s.SelectExcept(name, "")
}

// SelectExcept returns the next live instance whose ID is not exclude.
// It fails when no other live instance exists.
func (s *RoundRobinSelector) SelectExcept(name, exclude string) (*core.ServiceInstance, error) {
	live := s.registry.HealthyInstances(name)
	if exclude != "" {
		live = without(live, exclude)
	}
	if len(live) == 0 {
		return nil, errors.NewError(errors.ErrorTypeNoHealthyInstance, "no healthy instances").
			WithDetail("service", name)
	}

	n := s.cursor(name).Add(1) - 1
	inst := live[n%uint64(len(live))]
	return &inst, nil
}

// Forget drops the cursor of a service that no longer exists
func (s *RoundRobinSelector) Forget(name string) {
	s.cursors.Delete(name)
}

// without returns live minus the instance with id. live is a shared
// snapshot and is never modified.
func without(live []core.ServiceInstance, id string) []core.ServiceInstance {
	for i := range live {
		if live[i].ID == id {
			out := make([]core.ServiceInstance, 0, len(live)-1)
			out = append(out, live[:i]...)
			return append(out, live[i+1:]...)
		}
	}
	return live
}
