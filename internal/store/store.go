// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/quiz-battle/internal/domain"
)

// Repository defines the interface for persisting players, live battle
// state and finished battle results.
type Repository interface {
	// GetUser retrieves a user by their user ID. It returns nil, nil when
	// the user does not exist.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// LoadBattleState returns every persisted key of a battle.
	LoadBattleState(ctx context.Context, userID, sessionID string) (map[string]string, error)

	// SaveBattleState upserts one key; the last write wins.
	SaveBattleState(ctx context.Context, userID, sessionID, key, value string) error

	// ClearBattleState removes every key of a battle.
	ClearBattleState(ctx context.Context, userID, sessionID string) error

	// CleanupStaleBattleState removes battle state untouched for longer than ttl.
	CleanupStaleBattleState(ctx context.Context, ttl time.Duration) (int64, error)

	// SaveBattleResult stores a finished battle.
	SaveBattleResult(ctx context.Context, result *domain.BattleResult) error

	// ListBattleResults returns a user's results that ended after since,
	// newest first. limit <= 0 means no limit.
	ListBattleResults(ctx context.Context, userID string, since time.Time, limit int) ([]*domain.BattleResult, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
