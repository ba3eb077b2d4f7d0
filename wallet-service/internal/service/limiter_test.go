package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newRedisLimiter(t *testing.T, max int64, window time.Duration) (*RedisAttemptLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisAttemptLimiter(client, "pin:", max, window), mr
}

func TestRedisAttemptLimiter_LockAndExpire(t *testing.T) {
	l, mr := newRedisLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := l.Fail(ctx, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if n != i {
			t.Fatalf("attempt %d counted as %d", i, n)
		}
	}
	if ttl := mr.TTL("pin:u1"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("counter ttl = %s", ttl)
	}
	locked, err := l.Locked(ctx, "u1")
	if err != nil || !locked {
		t.Fatalf("expected locked, got %v %v", locked, err)
	}

	mr.FastForward(time.Minute)
	if locked, _ := l.Locked(ctx, "u1"); locked {
		t.Error("still locked after the window")
	}
}

func TestRedisAttemptLimiter_WindowStartsAtFirstFailure(t *testing.T) {
	l, mr := newRedisLimiter(t, 5, time.Minute)
	ctx := context.Background()

	if _, err := l.Fail(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(40 * time.Second)
	if _, err := l.Fail(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL("pin:u1"); ttl > 20*time.Second {
		t.Errorf("second failure extended the window: ttl = %s", ttl)
	}
}

func TestRedisAttemptLimiter_CounterWithoutTTLHeals(t *testing.T) {
	l, mr := newRedisLimiter(t, 3, time.Minute)
	ctx := context.Background()

	// A counter left behind without an expiry.
	if err := mr.Set("pin:u1", "7"); err != nil {
		t.Fatal(err)
	}
	n, err := l.Fail(ctx, "u1")
	if err != nil || n != 8 {
		t.Fatalf("Fail = %d, %v", n, err)
	}
	if ttl := mr.TTL("pin:u1"); ttl <= 0 {
		t.Fatal("counter still has no ttl")
	}
	mr.FastForward(time.Minute)
	if locked, _ := l.Locked(ctx, "u1"); locked {
		t.Error("user locked out past the window")
	}
}

func TestRedisAttemptLimiter_Reset(t *testing.T) {
	l, mr := newRedisLimiter(t, 1, time.Minute)
	ctx := context.Background()

	if _, err := l.Fail(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if err := l.Reset(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("pin:u1") {
		t.Error("counter not deleted")
	}
}
