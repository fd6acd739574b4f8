package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/quiz-battle/internal/domain"
	"github.com/ashureev/quiz-battle/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	retry   shared.RetryPolicy
	now     func() time.Time
	writeMu sync.Mutex // serializes battle state writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string, retry shared.RetryPolicy) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// modernc.org/sqlite applies connection pragmas from _pragma parameters.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: retry, now: time.Now}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS battle_state (
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		state_key TEXT NOT NULL,
		state_value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, session_id, state_key)
	);
	CREATE INDEX IF NOT EXISTS idx_battle_state_updated ON battle_state(updated_at);

	CREATE TABLE IF NOT EXISTS battle_results (
		result_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		battle_id TEXT NOT NULL,
		subject TEXT NOT NULL,
		outcome TEXT NOT NULL,
		history_json TEXT NOT NULL,
		question_count INTEGER NOT NULL,
		player_hp INTEGER NOT NULL,
		opponent_hp INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_battle_results_user_ended ON battle_results(user_id, ended_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, user.LastSeenAt.Unix(),
		user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), s.now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// LoadBattleState returns every persisted key of a battle.
func (s *SQLiteStore) LoadBattleState(ctx context.Context, userID, sessionID string) (map[string]string, error) {
	query := `SELECT state_key, state_value FROM battle_state WHERE user_id = ? AND session_id = ?`
	rows, err := s.db.QueryContext(ctx, query, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query battle state: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close battle state rows", "error", closeErr)
		}
	}()

	state := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan battle state row: %w", err)
		}
		state[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate battle state: %w", err)
	}
	return state, nil
}

// SaveBattleState upserts one battle state key.
func (s *SQLiteStore) SaveBattleState(ctx context.Context, userID, sessionID, key, value string) error {
	query := `
		INSERT INTO battle_state (user_id, session_id, state_key, state_value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, session_id, state_key) DO UPDATE SET
			state_value = excluded.state_value,
			updated_at = excluded.updated_at`

	return shared.RetryOnConflict(ctx, s.retry, "save battle state", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		if _, err := s.db.ExecContext(ctx, query, userID, sessionID, key, value, s.now().Unix()); err != nil {
			return fmt.Errorf("upsert battle state %s: %w", key, err)
		}
		return nil
	})
}

// ClearBattleState removes every key of a battle.
func (s *SQLiteStore) ClearBattleState(ctx context.Context, userID, sessionID string) error {
	query := `DELETE FROM battle_state WHERE user_id = ? AND session_id = ?`
	return shared.RetryOnConflict(ctx, s.retry, "clear battle state", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		if _, err := s.db.ExecContext(ctx, query, userID, sessionID); err != nil {
			return fmt.Errorf("delete battle state: %w", err)
		}
		return nil
	})
}

// CleanupStaleBattleState removes every battle whose newest key is older
// than ttl. Battles are deleted whole so a resumed battle never mixes saved
// and default HP.
func (s *SQLiteStore) CleanupStaleBattleState(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := s.now().Add(-ttl).Unix()
	query := `
		DELETE FROM battle_state
		WHERE (user_id, session_id) IN (
			SELECT user_id, session_id FROM battle_state
			GROUP BY user_id, session_id
			HAVING MAX(updated_at) < ?
		)`

	var deleted int64
	err := shared.RetryOnConflict(ctx, s.retry, "cleanup battle state", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		result, err := s.db.ExecContext(ctx, query, threshold)
		if err != nil {
			return fmt.Errorf("cleanup battle state: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// SaveBattleResult stores a finished battle.
func (s *SQLiteStore) SaveBattleResult(ctx context.Context, result *domain.BattleResult) error {
	history, err := result.History.Encode()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO battle_results (
			result_id, user_id, session_id, battle_id, subject, outcome,
			history_json, question_count, player_hp, opponent_hp, started_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(result_id) DO NOTHING`

	return shared.RetryOnConflict(ctx, s.retry, "save battle result", func() error {
		_, err := s.db.ExecContext(ctx, query,
			result.ResultID, result.UserID, result.SessionID, result.BattleID,
			string(result.Subject), string(result.Outcome), history,
			result.QuestionCount, result.PlayerHP, result.OpponentHP,
			result.StartedAt.UnixMilli(), result.EndedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert battle result: %w", err)
		}
		return nil
	})
}

// ListBattleResults returns a user's results ended after since, newest first.
func (s *SQLiteStore) ListBattleResults(ctx context.Context, userID string, since time.Time, limit int) ([]*domain.BattleResult, error) {
	query := `
		SELECT result_id, user_id, session_id, battle_id, subject, outcome,
		       history_json, question_count, player_hp, opponent_hp, started_at, ended_at
		FROM battle_results
		WHERE user_id = ? AND ended_at > ?
		ORDER BY ended_at DESC`
	args := []any{userID, since.UnixMilli()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query battle results: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close battle result rows", "error", closeErr)
		}
	}()

	var results []*domain.BattleResult
	for rows.Next() {
		var r domain.BattleResult
		var subject, outcome, historyJSON string
		var startedAt, endedAt int64
		if err := rows.Scan(
			&r.ResultID, &r.UserID, &r.SessionID, &r.BattleID, &subject, &outcome,
			&historyJSON, &r.QuestionCount, &r.PlayerHP, &r.OpponentHP, &startedAt, &endedAt,
		); err != nil {
			return nil, fmt.Errorf("scan battle result row: %w", err)
		}
		r.Subject = domain.Subject(subject)
		r.Outcome = domain.Outcome(outcome)
		r.StartedAt = time.UnixMilli(startedAt)
		r.EndedAt = time.UnixMilli(endedAt)
		if r.History, err = domain.DecodeAnswerHistory(historyJSON); err != nil {
			return nil, fmt.Errorf("battle result %s: %w", r.ResultID, err)
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate battle results: %w", err)
	}
	return results, nil
}
