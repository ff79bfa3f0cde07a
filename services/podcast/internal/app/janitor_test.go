package app

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSweepIdleRemovesStaleSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	stale := env.sessionWithScript(t)
	if _, err := env.app.SelectChapter(ctx, stale.ID, 0, true); err != nil {
		t.Fatalf("select: %v", err)
	}
	fresh := env.app.CreateSession()

	env.app.mu.RLock()
	s := env.app.sessions[stale.ID]
	env.app.mu.RUnlock()
	s.mu.Lock()
	s.lastSeen = time.Now().Add(-2 * time.Hour)
	s.mu.Unlock()

	if n := env.app.SweepIdle(ctx, time.Hour, time.Now()); n != 1 {
		t.Fatalf("SweepIdle() = %d, want 1", n)
	}
	if _, err := env.app.GetSession(stale.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("stale session still present: %v", err)
	}
	if _, err := env.app.GetSession(fresh.ID); err != nil {
		t.Fatalf("fresh session removed: %v", err)
	}
	if env.cache.Len() != 0 {
		t.Fatalf("cached audio of swept session kept: %d entries", env.cache.Len())
	}
}

func TestSweepIdleKeepsPolledSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.sessionWithScript(t)
	if _, err := env.app.SelectChapter(ctx, sess.ID, 0, true); err != nil {
		t.Fatalf("select: %v", err)
	}

	env.app.mu.RLock()
	s := env.app.sessions[sess.ID]
	env.app.mu.RUnlock()
	s.mu.Lock()
	s.state.UpdatedAt = time.Now().Add(-2 * time.Hour)
	s.lastSeen = s.state.UpdatedAt
	s.mu.Unlock()

	// a client polling state while audio plays sends no transport events
	if _, err := env.app.GetSession(sess.ID); err != nil {
		t.Fatalf("get session: %v", err)
	}
	if n := env.app.SweepIdle(ctx, time.Hour, time.Now()); n != 0 {
		t.Fatalf("SweepIdle() = %d, want polled session kept", n)
	}
	if _, err := env.app.GetSession(sess.ID); err != nil {
		t.Fatalf("polled session removed: %v", err)
	}
}

func TestSweepIdleDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.app.CreateSession()
	if n := env.app.SweepIdle(context.Background(), 0, time.Now().Add(24*time.Hour)); n != 0 {
		t.Fatalf("SweepIdle() with zero maxIdle = %d", n)
	}
}

func TestRunJanitorStopsWithContext(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		env.app.RunJanitor(ctx, time.Millisecond, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("janitor did not stop")
	}
}
