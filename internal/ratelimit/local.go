package ratelimit

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether a caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
}

// LocalLimiter is a per-key token bucket held in process memory, used when
// no Redis is configured. Quotas are per replica.
type LocalLimiter struct {
	limit  int
	every  rate.Limit
	idle   time.Duration
	now    func() time.Time
	mu     sync.Mutex
	keys   map[string]*localEntry
	sweeps int
}

type localEntry struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter allows limit hits per window for each key, refilled evenly.
func NewLocalLimiter(limit int, window time.Duration) (*LocalLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	return &LocalLimiter{
		limit: limit,
		every: rate.Every(window / time.Duration(limit)),
		idle:  2 * window,
		now:   time.Now,
		keys:  make(map[string]*localEntry),
	}, nil
}

// Allow consumes one token for key.
func (l *LocalLimiter) Allow(_ context.Context, key string) Decision {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(now)
	entry, ok := l.keys[key]
	if !ok {
		entry = &localEntry{bucket: rate.NewLimiter(l.every, l.limit)}
		l.keys[key] = entry
	}
	entry.lastSeen = now

	res := entry.bucket.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return Decision{RetryAfter: delay}
	}
	remaining := int(math.Floor(entry.bucket.TokensAt(now)))
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining}
}

// sweep drops idle keys every few hundred calls. Callers hold l.mu.
func (l *LocalLimiter) sweep(now time.Time) {
	l.sweeps++
	if l.sweeps < 256 {
		return
	}
	l.sweeps = 0
	for key, entry := range l.keys {
		if now.Sub(entry.lastSeen) > l.idle {
			delete(l.keys, key)
		}
	}
}
