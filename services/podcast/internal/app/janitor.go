package app

import (
	"context"
	"time"

	"podpdf/internal/util"
)

// SweepIdle removes sessions neither read nor updated since now-maxIdle. Sessions with a
// load in flight are kept. It returns the number of sessions removed.
func (a *App) SweepIdle(ctx context.Context, maxIdle time.Duration, now time.Time) int {
	if maxIdle <= 0 {
		return 0
	}
	cutoff := now.Add(-maxIdle)

	a.mu.Lock()
	idle := make(map[string]*session)
	for id, s := range a.sessions {
		s.mu.Lock()
		expired := s.lastSeen.Before(cutoff) && !s.state.LoadingAudio
		s.mu.Unlock()
		if expired {
			idle[id] = s
			delete(a.sessions, id)
		}
	}
	a.mu.Unlock()

	for id, s := range idle {
		a.release(ctx, id, s)
	}
	return len(idle)
}

// RunJanitor sweeps idle sessions every interval until ctx is done.
func (a *App) RunJanitor(ctx context.Context, interval, maxIdle time.Duration) {
	if interval <= 0 || maxIdle <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger := util.LoggerFromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := a.SweepIdle(ctx, maxIdle, now); n > 0 {
				logger.Info("idle sessions removed", "count", n, "max_idle", maxIdle.String())
			}
		}
	}
}
