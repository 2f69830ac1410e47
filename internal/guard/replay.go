package guard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayCache remembers the rendered response for a delivery key so a
// redelivered webhook gets the same answer without side effects.
type ReplayCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type MemoryReplayCache struct {
	mu      sync.Mutex
	entries map[string]replayEntry
	clock   func() time.Time
}

type replayEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewMemoryReplayCache() *MemoryReplayCache {
	return &MemoryReplayCache{entries: map[string]replayEntry{}, clock: time.Now}
}

// WithClock overrides the time source.
func (c *MemoryReplayCache) WithClock(clock func() time.Time) *MemoryReplayCache {
	c.clock = clock
	return c
}

func (c *MemoryReplayCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.clock().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (c *MemoryReplayCache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	// Sweep on write; the map stays bounded by the traffic of one window.
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	c.entries[key] = replayEntry{value: buf, expiresAt: now.Add(ttl)}
	return nil
}

type RedisReplayCache struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisReplayCache(rdb *redis.Client) *RedisReplayCache {
	return &RedisReplayCache{rdb: rdb, prefix: "phone-agent:replay:"}
}

func (c *RedisReplayCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *RedisReplayCache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.prefix+key, value, ttl).Err()
}
