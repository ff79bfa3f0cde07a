package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestLimiter(t *testing.T, mr *miniredis.Miniredis, limit int) *FixedWindowLimiter {
	t.Helper()
	limiter, err := NewFixedWindowLimiter(Config{
		RedisAddr: mr.Addr(),
		Prefix:    "test:ratelimit",
		Limit:     limit,
		Window:    time.Minute,
	})
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })
	return limiter
}

func TestFixedWindowLimiterRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter := newTestLimiter(t, mr, 2)
	ctx := context.Background()

	first := limiter.Allow(ctx, "ip-1")
	if !first.Allowed || first.Remaining != 1 {
		t.Fatalf("first request = %+v, want allowed with 1 remaining", first)
	}
	if !limiter.Allow(ctx, "ip-1").Allowed {
		t.Fatalf("second request should pass")
	}
	third := limiter.Allow(ctx, "ip-1")
	if third.Allowed {
		t.Fatalf("third request should be blocked")
	}
	if third.RetryAfter <= 0 || third.RetryAfter > time.Minute {
		t.Fatalf("retry after = %v, want within the window", third.RetryAfter)
	}
	if !limiter.Allow(ctx, "ip-2").Allowed {
		t.Fatalf("other keys keep their own quota")
	}
}

func TestFixedWindowLimiterRedisFailClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter := newTestLimiter(t, mr, 1)
	mr.Close()
	if d := limiter.Allow(context.Background(), "ip-1"); d.Allowed || d.RetryAfter != time.Minute {
		t.Fatalf("limiter should fail closed on redis errors, got %+v", d)
	}
}

func TestFixedWindowLimiterValidation(t *testing.T) {
	if l, err := NewFixedWindowLimiter(Config{Limit: 1, Window: time.Second}); err == nil || l != nil {
		t.Fatalf("expected constructor error for empty redis addr")
	}
	if _, err := NewFixedWindowLimiter(Config{RedisAddr: "localhost:6379", Window: time.Second}); err == nil {
		t.Fatalf("expected constructor error for zero limit")
	}
	if _, err := NewFixedWindowLimiter(Config{RedisAddr: "localhost:6379", Limit: 1, Window: time.Microsecond}); err == nil {
		t.Fatalf("expected constructor error for sub-millisecond window")
	}
	var nilLimiter *FixedWindowLimiter
	if d := nilLimiter.Allow(context.Background(), "1.2.3.4"); !d.Allowed {
		t.Fatalf("nil limiter should allow, got %+v", d)
	}
}
