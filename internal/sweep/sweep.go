// Package sweep runs the background cleanup of idle battles and stale
// persisted battle state.
package sweep

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DefaultInterval is how often the worker sweeps.
	DefaultInterval = 5 * time.Minute

	// StaleStateTTL is how long persisted battle state survives untouched.
	StaleStateTTL = 7 * 24 * time.Hour
)

// SessionSweeper drops in-memory sessions idle longer than ttl.
type SessionSweeper interface {
	SweepIdle(ttl time.Duration) int
}

// StateCleaner deletes persisted battle state untouched longer than ttl.
type StateCleaner interface {
	CleanupStaleBattleState(ctx context.Context, ttl time.Duration) (int64, error)
}

// Worker periodically sweeps idle sessions and stale state.
type Worker struct {
	sessions   SessionSweeper
	state      StateCleaner
	sessionTTL time.Duration
	stateTTL   time.Duration
	interval   time.Duration
}

// NewWorker creates a worker with the default interval and state TTL.
func NewWorker(sessions SessionSweeper, state StateCleaner, sessionTTL time.Duration) *Worker {
	return &Worker{
		sessions:   sessions,
		state:      state,
		sessionTTL: sessionTTL,
		stateTTL:   StaleStateTTL,
		interval:   DefaultInterval,
	}
}

// Start runs the worker in a background goroutine until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	go w.Run(ctx)
}

// Run sweeps on every tick until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	slog.Info("Sweep worker started", "interval", w.interval, "session_ttl", w.sessionTTL)

	for {
		select {
		case <-ticker.C:
			w.Sweep(ctx)
		case <-ctx.Done():
			slog.Info("Sweep worker shutting down", "reason", ctx.Err())
			return
		}
	}
}

// Sweep performs one cleanup pass.
func (w *Worker) Sweep(ctx context.Context) {
	if w.sessions != nil {
		if n := w.sessions.SweepIdle(w.sessionTTL); n > 0 {
			slog.Info("Sweep worker dropped idle battles", "count", n)
		}
	}

	if w.state == nil {
		return
	}
	deleted, err := w.state.CleanupStaleBattleState(ctx, w.stateTTL)
	if err != nil {
		slog.Error("Sweep worker failed to cleanup stale battle state", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Sweep worker cleaned up stale battle state", "count", deleted)
	}
}
