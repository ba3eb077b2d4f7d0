package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// AttemptLimiter counts failed attempts per key inside a fixed window.
type AttemptLimiter interface {
	// Locked reports whether key has used up its attempts.
	Locked(ctx context.Context, key string) (bool, error)
	// Fail records a failed attempt and returns the count in the window.
	Fail(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
	Max() int64
}

// RedisAttemptLimiter keeps counters in Redis so that every wallet replica
// sees the same lockout.
type RedisAttemptLimiter struct {
	client *goredis.Client
	prefix string
	max    int64
	window time.Duration
}

func NewRedisAttemptLimiter(client *goredis.Client, prefix string, max int64, window time.Duration) *RedisAttemptLimiter {
	return &RedisAttemptLimiter{client: client, prefix: prefix, max: max, window: window}
}

func (l *RedisAttemptLimiter) Max() int64 { return l.max }

func (l *RedisAttemptLimiter) Locked(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Get(ctx, l.prefix+key).Int64()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read attempt counter: %w", err)
	}
	return n >= l.max, nil
}

// failScript increments the counter and starts the window in one step. A
// counter found without a TTL gets one, so no key outlives its window.
var failScript = goredis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

func (l *RedisAttemptLimiter) Fail(ctx context.Context, key string) (int64, error) {
	n, err := failScript.Run(ctx, l.client, []string{l.prefix + key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to count attempt: %w", err)
	}
	return n, nil
}

func (l *RedisAttemptLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to reset attempt counter: %w", err)
	}
	return nil
}

// MemoryAttemptLimiter is the single-process fallback used when Redis is not
// configured.
type MemoryAttemptLimiter struct {
	mu      sync.Mutex
	entries map[string]attempts
	max     int64
	window  time.Duration
	now     func() time.Time
}

type attempts struct {
	count   int64
	expires time.Time
}

func NewMemoryAttemptLimiter(max int64, window time.Duration) *MemoryAttemptLimiter {
	return &MemoryAttemptLimiter{
		entries: make(map[string]attempts),
		max:     max,
		window:  window,
		now:     time.Now,
	}
}

func (l *MemoryAttemptLimiter) Max() int64 { return l.max }

func (l *MemoryAttemptLimiter) Locked(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current(key).count >= l.max, nil
}

func (l *MemoryAttemptLimiter) Fail(ctx context.Context, key string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.current(key)
	if a.count == 0 {
		a.expires = l.now().Add(l.window)
	}
	a.count++
	l.entries[key] = a
	return a.count, nil
}

func (l *MemoryAttemptLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	delete(l.entries, key)
	l.mu.Unlock()
	return nil
}

// current must be called with mu held.
func (l *MemoryAttemptLimiter) current(key string) attempts {
	a, ok := l.entries[key]
	if !ok {
		return attempts{}
	}
	if !l.now().Before(a.expires) {
		delete(l.entries, key)
		return attempts{}
	}
	return a
}
