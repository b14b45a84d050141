package memory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"meshgate/internal/storage"
)

// entry is one token bucket
type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Store implements LimiterStore with per-key token buckets held in
// process memory
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	config  *storage.LimiterStoreConfig
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

var _ storage.LimiterStore = (*Store)(nil)

// NewStore creates a new memory store
func NewStore(config *storage.LimiterStoreConfig) *Store {
	if config == nil {
		config = storage.DefaultConfig()
	}

	s := &Store{
		entries: make(map[string]*entry),
		config:  config,
		now:     time.Now,
		done:    make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go s.cleanup()
	}

	return s
}

// Allow consumes one token for key. A limit change for an existing key
// is applied in place without resetting the bucket.
func (s *Store) Allow(_ context.Context, key string, limit storage.Limit) (storage.Decision, error) {
	limit = limit.Normalize()
	now := s.now()

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		if s.config.MaxEntries > 0 && len(s.entries) >= s.config.MaxEntries {
			s.evictOldestLocked()
		}
		e = &entry{limiter: rate.NewLimiter(rate.Limit(limit.Rate), limit.Burst)}
		s.entries[key] = e
	} else {
		if e.limiter.Limit() != rate.Limit(limit.Rate) {
			e.limiter.SetLimitAt(now, rate.Limit(limit.Rate))
		}
		if e.limiter.Burst() != limit.Burst {
			e.limiter.SetBurstAt(now, limit.Burst)
		}
	}
	e.lastSeen = now
	limiter := e.limiter
	s.mu.Unlock()

	r := limiter.ReserveN(now, 1)
	if !r.OK() {
		return storage.Decision{Allowed: false}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return storage.Decision{Allowed: false, RetryAfter: delay}, nil
	}

	return storage.Decision{
		Allowed:   true,
		Remaining: int(limiter.TokensAt(now)),
	}, nil
}

// Reset resets the counter for a key
func (s *Store) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of tracked keys
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the cleanup loop
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *Store) cleanup() {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.removeIdle()
		}
	}
}

// removeIdle drops entries not used within IdleTimeout
func (s *Store) removeIdle() {
	idle := s.config.IdleTimeout
	if idle <= 0 {
		return
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		if now.Sub(e.lastSeen) > idle {
			delete(s.entries, key)
		}
	}
}

func (s *Store) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, e := range s.entries {
		if oldestKey == "" || e.lastSeen.Before(oldest) {
			oldestKey = key
			oldest = e.lastSeen
		}
	}
	if oldestKey != "" {
		delete(s.entries, oldestKey)
	}
}
