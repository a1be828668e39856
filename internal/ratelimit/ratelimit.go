package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter counts events per key within fixed windows.
type Counter interface {
	// Incr increments the counter for key in the window containing now and
	// returns the new count.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Limiter enforces a fixed-window per-key request limit.
type Limiter struct {
	counter Counter
	limit   int
	window  time.Duration
}

// NewLimiter constructs a Limiter. A non-positive limit disables limiting.
func NewLimiter(counter Counter, perMinute int) *Limiter {
	return &Limiter{counter: counter, limit: perMinute, window: time.Minute}
}

// Limit returns the configured per-window limit.
func (l *Limiter) Limit() int {
	if l == nil {
		return 0
	}
	return l.limit
}

// Allow reports whether the request under key is within the configured limit.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	if l == nil {
		return true
	}
	return l.AllowWithLimit(ctx, key, l.limit)
}

// AllowWithLimit is Allow with an explicit limit for this call, letting
// callers apply runtime overrides. Counter failures allow the request; rate
// limiting is best effort.
func (l *Limiter) AllowWithLimit(ctx context.Context, key string, limit int) bool {
	if l == nil || limit <= 0 {
		return true
	}
	count, errIncr := l.counter.Incr(ctx, key, l.window)
	if errIncr != nil {
		return true
	}
	return count <= int64(limit)
}

// RedisCounter counts in Redis so limits hold across replicas.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter constructs a Counter backed by Redis.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// Incr increments a windowed Redis key, setting the expiry on first use.
func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	bucket := fmt.Sprintf("ratelimit:%s:%d", key, time.Now().Unix()/int64(window.Seconds()))
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, bucket)
	pipe.Expire(ctx, bucket, window)
	if _, errExec := pipe.Exec(ctx); errExec != nil {
		return 0, fmt.Errorf("ratelimit: redis incr: %w", errExec)
	}
	return incr.Val(), nil
}

// MemoryCounter counts in process memory. Used when Redis is not configured;
// limits then hold per replica only.
type MemoryCounter struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
}

type memoryBucket struct {
	count   int64
	expires time.Time
}

// NewMemoryCounter constructs an in-process Counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{buckets: make(map[string]*memoryBucket)}
}

// Incr increments the in-memory counter for key, resetting expired windows.
func (c *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.buckets[key]
	if b == nil || now.After(b.expires) {
		b = &memoryBucket{expires: now.Add(window)}
		c.buckets[key] = b
	}
	b.count++
	return b.count, nil
}

// Sweep drops expired buckets. Called periodically by the maintenance cron.
func (c *MemoryCounter) Sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, b := range c.buckets {
		if now.After(b.expires) {
			delete(c.buckets, key)
		}
	}
}
