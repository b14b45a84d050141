package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meshgate/internal/storage"
)

// Client defines the interface for Redis operations
type Client interface {
	// Eval executes a Lua script
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)
	// Del deletes keys
	Del(ctx context.Context, keys ...string) error
	// Ping checks connectivity
	Ping(ctx context.Context) error
	// Close closes the connection
	Close() error
}

// slidingWindowScript admits a request while fewer than burst requests
// were recorded in the trailing window. Returns {allowed, remaining,
// retryAfterMillis}.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

local current = redis.call('ZCARD', key)
if current < burst then
	redis.call('ZADD', key, now, now .. ':' .. math.random())
	redis.call('PEXPIRE', key, window + 1000)
	return {1, burst - current - 1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local retry = window
if oldest[2] then
	retry = tonumber(oldest[2]) + window - now
end
return {0, 0, retry}
`

// Store implements LimiterStore using Redis so limits are shared by every
// gateway replica
type Store struct {
	client Client
	config *storage.LimiterStoreConfig
	script string
	now    func() time.Time
}

var _ storage.LimiterStore = (*Store)(nil)

// NewStore creates a new Redis store
func NewStore(client Client, config *storage.LimiterStoreConfig) *Store {
	if config == nil {
		config = storage.DefaultConfig()
	}
	return &Store{
		client: client,
		config: config,
		script: slidingWindowScript,
		now:    time.Now,
	}
}

// window is the span in which burst requests are admitted
func window(limit storage.Limit) time.Duration {
	if limit.Rate <= 0 {
		return time.Second
	}
	return time.Duration(limit.Burst) * time.Second / time.Duration(limit.Rate)
}

// Allow records one request for key
func (s *Store) Allow(ctx context.Context, key string, limit storage.Limit) (storage.Decision, error) {
	limit = limit.Normalize()
	if limit.Burst <= 0 {
		return storage.Decision{Allowed: false, RetryAfter: time.Second}, nil
	}

	result, err := s.client.Eval(ctx, s.script, []string{s.config.KeyPrefix + key},
		s.now().UnixMilli(),
		window(limit).Milliseconds(),
		limit.Burst,
	)
	if err != nil {
		return storage.Decision{}, fmt.Errorf("failed to execute rate limit script: %w", err)
	}

	res, ok := result.([]any)
	if !ok || len(res) != 3 {
		return storage.Decision{}, errors.New("invalid rate limit script result")
	}
	allowed, ok1 := res[0].(int64)
	remaining, ok2 := res[1].(int64)
	retry, ok3 := res[2].(int64)
	if !ok1 || !ok2 || !ok3 {
		return storage.Decision{}, errors.New("invalid rate limit script result types")
	}

	return storage.Decision{
		Allowed:    allowed == 1,
		Remaining:  int(remaining),
		RetryAfter: time.Duration(retry) * time.Millisecond,
	}, nil
}

// Reset resets the counter for a key
func (s *Store) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.config.KeyPrefix+key)
}

// Ping checks that the redis server is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// Close closes the store
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
