package registry

import (
	"sync"

	"meshgate/internal/core"
	"meshgate/internal/metrics"
)

const defaultEventBuffer = 64

// broadcaster fans registry events out to subscribers without ever
// blocking the publisher.
type broadcaster struct {
	metrics *metrics.Metrics

	mu     sync.Mutex
	subs   map[chan core.HealthEvent]struct{}
	closed bool
}

func newBroadcaster(m *metrics.Metrics) *broadcaster {
	return &broadcaster{
		metrics: m,
		subs:    make(map[chan core.HealthEvent]struct{}),
	}
}

func (b *broadcaster) subscribe(buffer int) (<-chan core.HealthEvent, func()) {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	ch := make(chan core.HealthEvent, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

func (b *broadcaster) publish(event core.HealthEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			if b.metrics != nil {
				b.metrics.WatchDropped.Inc()
			}
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
