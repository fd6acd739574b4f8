package battle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/quiz-battle/internal/clock"
	"github.com/ashureev/quiz-battle/internal/domain"
)

// StartRequest describes the battle a client wants to enter.
// Zero opponent values fall back to the stage table, then to the baseline.
type StartRequest struct {
	Subject        string
	Stage          int
	OpponentMaxHP  int
	OpponentAttack int
	Restart        bool
}

// Manager owns the live sessions, one per key.
type Manager struct {
	mu         sync.Mutex
	sessions   map[Key]*Session
	defaults   Options
	encounters *EncounterTable
	deps       Deps
}

// NewManager creates a manager. defaults supplies the player stats, the
// baseline opponent and the pacing delays for every new session.
func NewManager(defaults Options, encounters *EncounterTable, deps Deps) *Manager {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager{
		sessions:   make(map[Key]*Session),
		defaults:   defaults,
		encounters: encounters,
		deps:       deps,
	}
}

// Start resumes the live session for key when it matches req, otherwise it
// replaces it with a new session. A new session that is not a restart picks
// up HP and history persisted by an earlier page load.
func (m *Manager) Start(ctx context.Context, key Key, req StartRequest) (*Session, bool, error) {
	opts, err := m.options(req)
	if err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	existing := m.sessions[key]
	if existing != nil && !req.Restart && !existing.Ended() && existing.matches(opts) {
		m.mu.Unlock()
		return existing, true, nil
	}
	s := NewSession(key, opts, m.deps)
	m.sessions[key] = s
	m.mu.Unlock()

	if existing != nil {
		existing.close()
	}

	if req.Restart || existing != nil {
		if err := m.clearState(ctx, key); err != nil {
			m.deps.Logger.Warn("failed to clear previous battle state",
				"user_id", key.UserID, "session_id", key.SessionID, "error", err)
		}
		return s, false, nil
	}

	resumed, err := s.Restore(ctx)
	if err != nil {
		m.deps.Logger.Warn("failed to restore battle state",
			"user_id", key.UserID, "session_id", key.SessionID, "error", err)
	}
	return s, resumed, nil
}

// Get returns the live session for key.
func (m *Manager) Get(key Key) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Abandon drops the session for key and clears its persisted state.
func (m *Manager) Abandon(ctx context.Context, key Key) error {
	m.mu.Lock()
	s, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if ok {
		s.close()
	}
	if err := m.clearState(ctx, key); err != nil {
		return fmt.Errorf("clear battle state: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// SweepIdle drops sessions unused for longer than ttl. Persisted state is
// kept so a returning player resumes where they left off.
func (m *Manager) SweepIdle(ttl time.Duration) int {
	cutoff := m.deps.Clock.Now().Add(-ttl)

	m.mu.Lock()
	var stale []*Session
	for key, s := range m.sessions {
		if s.IdleSince().Before(cutoff) {
			stale = append(stale, s)
			delete(m.sessions, key)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.close()
	}
	return len(stale)
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) options(req StartRequest) (Options, error) {
	opts := m.defaults
	opts.Subject = domain.NormalizeSubject(req.Subject)
	opts.Stage = req.Stage

	if enc, ok := m.encounters.Lookup(req.Stage); ok {
		opts.Opponent = enc.Stats
	}
	if req.OpponentMaxHP > 0 {
		opts.Opponent.MaxHP = req.OpponentMaxHP
	}
	if req.OpponentAttack > 0 {
		opts.Opponent.Attack = req.OpponentAttack
	}

	if err := opts.Player.Validate(); err != nil {
		return Options{}, fmt.Errorf("player stats: %w", err)
	}
	if err := opts.Opponent.Validate(); err != nil {
		return Options{}, fmt.Errorf("opponent stats: %w", err)
	}
	return opts, nil
}

func (m *Manager) clearState(ctx context.Context, key Key) error {
	if m.deps.State == nil {
		return nil
	}
	return m.deps.State.ClearBattleState(ctx, key.UserID, key.SessionID)
}

func (s *Session) matches(opts Options) bool {
	return s.opts.Subject == opts.Subject &&
		s.opts.Stage == opts.Stage &&
		s.opts.Opponent == opts.Opponent
}
