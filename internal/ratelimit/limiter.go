// Package ratelimit provides fixed-window request limiting backed by Redis or memory.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const sweepInterval = 5 * time.Minute

type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) Decision
	Close()
}

type Decision struct {
	Allowed   bool
	Count     int
	WindowEnd time.Time
}

// RetryAfter is the time left in the current window.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.WindowEnd.Before(now) {
		return 0
	}
	return d.WindowEnd.Sub(now)
}

type redisLimiter struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	timeout time.Duration
}

// NewRedis builds a limiter on a shared client. Redis errors fail open.
func NewRedis(client *redis.Client, logger *slog.Logger) Limiter {
	return &redisLimiter{
		client:  client,
		logger:  logger,
		prefix:  "ratelimit:",
		timeout: 250 * time.Millisecond,
	}
}

func (rl *redisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, rl.timeout)
	defer cancel()

	redisKey := rl.prefix + key
	counter, err := rl.client.Incr(ctx, redisKey).Result()
	if err != nil {
		rl.logRedisError("incr", err)
		return Decision{Allowed: true}
	}
	if counter == 1 {
		if err := rl.client.Expire(ctx, redisKey, window).Err(); err != nil {
			rl.logRedisError("expire", err)
		}
	}
	ttl, err := rl.client.TTL(ctx, redisKey).Result()
	if err != nil || ttl <= 0 {
		ttl = window
	}
	return Decision{
		Allowed:   int(counter) <= limit,
		Count:     int(counter),
		WindowEnd: time.Now().Add(ttl),
	}
}

// Close is a no-op; the client belongs to the session store.
func (rl *redisLimiter) Close() {}

func (rl *redisLimiter) logRedisError(op string, err error) {
	if rl.logger == nil {
		return
	}
	rl.logger.Error("redis rate limiter error", "op", op, "error", err)
}

type memoryLimiter struct {
	mu      sync.Mutex
	entries map[string]windowState
	now     func() time.Time
	stopCh  chan struct{}
	once    sync.Once
}

type windowState struct {
	count     int
	windowEnd time.Time
}

func NewMemory() Limiter {
	rl := newMemory(time.Now)
	go rl.sweepLoop()
	return rl
}

func newMemory(now func() time.Time) *memoryLimiter {
	return &memoryLimiter{
		entries: make(map[string]windowState),
		now:     now,
		stopCh:  make(chan struct{}),
	}
}

func (rl *memoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.entries[key]
	if !ok || now.After(state.windowEnd) {
		state = windowState{count: 1, windowEnd: now.Add(window)}
		rl.entries[key] = state
		return Decision{Allowed: true, Count: state.count, WindowEnd: state.windowEnd}
	}
	if state.count >= limit {
		return Decision{Allowed: false, Count: state.count, WindowEnd: state.windowEnd}
	}
	state.count++
	rl.entries[key] = state
	return Decision{Allowed: true, Count: state.count, WindowEnd: state.windowEnd}
}

func (rl *memoryLimiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup(rl.now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *memoryLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, state := range rl.entries {
		if now.After(state.windowEnd) {
			delete(rl.entries, key)
		}
	}
}

func (rl *memoryLimiter) Close() {
	rl.once.Do(func() {
		close(rl.stopCh)
	})
}
