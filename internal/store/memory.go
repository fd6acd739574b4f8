package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/quiz-battle/internal/domain"
)

// MemoryPath selects the in-memory repository in place of a database file.
const MemoryPath = ":memory:"

type stateKey struct {
	userID    string
	sessionID string
}

type stateEntry struct {
	value     string
	updatedAt time.Time
}

// MemoryStore implements Repository in process memory. Nothing survives a
// restart.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	users   map[string]domain.User
	state   map[stateKey]map[string]stateEntry
	results []domain.BattleResult
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		now:   time.Now,
		users: make(map[string]domain.User),
		state: make(map[stateKey]map[string]stateEntry),
	}
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *MemoryStore) UpsertUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[user.UserID]; ok {
		existing.Username = user.Username
		existing.LastSeenAt = user.LastSeenAt
		existing.UpdatedAt = user.UpdatedAt
		m.users[user.UserID] = existing
		return nil
	}
	m.users[user.UserID] = *user
	return nil
}

func (m *MemoryStore) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil
	}
	u.LastSeenAt = lastSeen
	u.UpdatedAt = m.now()
	m.users[userID] = u
	return nil
}

func (m *MemoryStore) LoadBattleState(_ context.Context, userID, sessionID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for k, e := range m.state[stateKey{userID, sessionID}] {
		out[k] = e.value
	}
	return out, nil
}

func (m *MemoryStore) SaveBattleState(_ context.Context, userID, sessionID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := stateKey{userID, sessionID}
	if m.state[k] == nil {
		m.state[k] = make(map[string]stateEntry)
	}
	m.state[k][key] = stateEntry{value: value, updatedAt: m.now()}
	return nil
}

func (m *MemoryStore) ClearBattleState(_ context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, stateKey{userID, sessionID})
	return nil
}

// CleanupStaleBattleState drops whole battles whose newest key is older
// than ttl.
func (m *MemoryStore) CleanupStaleBattleState(_ context.Context, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	threshold := m.now().Add(-ttl)
	var deleted int64
	for k, entries := range m.state {
		stale := true
		for _, e := range entries {
			if !e.updatedAt.Before(threshold) {
				stale = false
				break
			}
		}
		if stale {
			deleted += int64(len(entries))
			delete(m.state, k)
		}
	}
	return deleted, nil
}

func (m *MemoryStore) SaveBattleResult(_ context.Context, result *domain.BattleResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.results {
		if r.ResultID == result.ResultID {
			return nil
		}
	}
	r := *result
	r.History = result.History.Clone()
	m.results = append(m.results, r)
	return nil
}

func (m *MemoryStore) ListBattleResults(_ context.Context, userID string, since time.Time, limit int) ([]*domain.BattleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.BattleResult
	for _, r := range m.results {
		if r.UserID != userID || !r.EndedAt.After(since) {
			continue
		}
		r.History = r.History.Clone()
		out = append(out, &r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EndedAt.After(out[j].EndedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
