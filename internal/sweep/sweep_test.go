package sweep

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSessions struct {
	calls int
	ttl   time.Duration
}

func (f *fakeSessions) SweepIdle(ttl time.Duration) int {
	f.calls++
	f.ttl = ttl
	return 1
}

type fakeState struct {
	calls int
	ttl   time.Duration
	err   error
}

func (f *fakeState) CleanupStaleBattleState(_ context.Context, ttl time.Duration) (int64, error) {
	f.calls++
	f.ttl = ttl
	return 3, f.err
}

func TestWorker_Sweep(t *testing.T) {
	sessions := &fakeSessions{}
	state := &fakeState{}
	w := NewWorker(sessions, state, 30*time.Minute)

	w.Sweep(context.Background())

	if sessions.calls != 1 || sessions.ttl != 30*time.Minute {
		t.Errorf("Expected one idle sweep with 30m TTL, got %d calls with %v", sessions.calls, sessions.ttl)
	}
	if state.calls != 1 || state.ttl != StaleStateTTL {
		t.Errorf("Expected one state cleanup with %v, got %d calls with %v", StaleStateTTL, state.calls, state.ttl)
	}
}

func TestWorker_SweepToleratesStoreErrors(t *testing.T) {
	sessions := &fakeSessions{}
	w := NewWorker(sessions, &fakeState{err: errors.New("database is locked")}, time.Hour)
	w.Sweep(context.Background())
	w.Sweep(context.Background())
	if sessions.calls != 2 {
		t.Errorf("Expected sweeps to continue after store errors, got %d", sessions.calls)
	}
}

func TestWorker_RunTicksUntilCancelled(t *testing.T) {
	sessions := &fakeSessions{}
	w := NewWorker(sessions, nil, time.Hour)
	w.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(55 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected Run to return after cancel")
	}
	if sessions.calls == 0 {
		t.Error("Expected at least one tick to sweep")
	}
}
