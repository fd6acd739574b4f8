package battle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/quiz-battle/internal/domain"
)

func newTestManager(t *testing.T, h *harness) *Manager {
	t.Helper()
	encounters, err := DefaultEncounters()
	if err != nil {
		t.Fatalf("DefaultEncounters: %v", err)
	}
	return NewManager(baseOptions(), encounters, h.deps())
}

func TestManager_StartAndResume(t *testing.T) {
	h := newHarness()
	m := newTestManager(t, h)
	ctx := context.Background()

	s, resumed, err := m.Start(ctx, testKey, StartRequest{Subject: "kanji"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if resumed {
		t.Error("Expected a fresh battle")
	}
	if s.Subject() != domain.SubjectKanji {
		t.Errorf("Expected kanji, got %s", s.Subject())
	}

	again, resumed, err := m.Start(ctx, testKey, StartRequest{Subject: "kanji"})
	if err != nil {
		t.Fatal(err)
	}
	if !resumed || again != s {
		t.Error("Expected the live session to be resumed")
	}

	other, _, err := m.Start(ctx, testKey, StartRequest{Subject: "english"})
	if err != nil {
		t.Fatal(err)
	}
	if other == s {
		t.Error("Expected a new session for a different subject")
	}
	if m.Count() != 1 {
		t.Errorf("Expected one live session, got %d", m.Count())
	}
}

func TestManager_RestoreAfterReload(t *testing.T) {
	h := newHarness()
	h.state.set(testKey, KeyPlayerHP, "25")
	h.state.set(testKey, KeyOpponentHP, "70")
	h.state.set(testKey, KeyAnswerHistory, `{"math":{"correct":2,"total":3}}`)
	m := newTestManager(t, h)

	s, resumed, err := m.Start(context.Background(), testKey, StartRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if !resumed {
		t.Error("Expected persisted state to be resumed")
	}
	v := s.View()
	if v.Player.HP != 25 || v.Opponent.HP != 70 {
		t.Errorf("Expected HP 25/70, got %d/%d", v.Player.HP, v.Opponent.HP)
	}
	if v.History[domain.SubjectMath] != (domain.Tally{Correct: 2, Total: 3}) {
		t.Errorf("Unexpected history %+v", v.History)
	}
}

func TestManager_RestartClearsState(t *testing.T) {
	h := newHarness()
	h.state.set(testKey, KeyPlayerHP, "5")
	m := newTestManager(t, h)

	s, resumed, err := m.Start(context.Background(), testKey, StartRequest{Restart: true})
	if err != nil {
		t.Fatal(err)
	}
	if resumed {
		t.Error("Expected restart not to resume")
	}
	if s.View().Player.HP != 40 {
		t.Errorf("Expected full player HP, got %d", s.View().Player.HP)
	}
	if _, ok := h.state.get(testKey, KeyPlayerHP); ok {
		t.Error("Expected persisted state to be cleared")
	}
}

func TestManager_OpponentStats(t *testing.T) {
	h := newHarness()
	m := newTestManager(t, h)
	ctx := context.Background()

	tests := []struct {
		name   string
		req    StartRequest
		maxHP  int
		attack int
	}{
		{"baseline", StartRequest{}, 120, 10},
		{"stage table", StartRequest{Stage: 10}, 250, 18},
		{"unknown stage", StartRequest{Stage: 42}, 120, 10},
		{"explicit", StartRequest{Stage: 10, OpponentMaxHP: 90, OpponentAttack: 7}, 90, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, err := m.Start(ctx, testKey, tt.req)
			if err != nil {
				t.Fatal(err)
			}
			v := s.View()
			if v.Opponent.MaxHP != tt.maxHP {
				t.Errorf("Expected max HP %d, got %d", tt.maxHP, v.Opponent.MaxHP)
			}
			if s.opts.Opponent.Attack != tt.attack {
				t.Errorf("Expected attack %d, got %d", tt.attack, s.opts.Opponent.Attack)
			}
		})
	}
}

func TestManager_AbandonAndGet(t *testing.T) {
	h := newHarness()
	m := newTestManager(t, h)
	ctx := context.Background()

	if _, err := m.Get(testKey); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	s, _, err := m.Start(ctx, testKey, StartRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if got, err := m.Get(testKey); err != nil || got != s {
		t.Fatalf("Expected live session, got %v (%v)", got, err)
	}

	if err := m.Abandon(ctx, testKey); err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}
	if !s.Ended() {
		t.Error("Expected abandoned session to be closed")
	}
	if _, err := m.Get(testKey); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after abandon, got %v", err)
	}
	if err := m.Abandon(ctx, testKey); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second abandon, got %v", err)
	}
}

func TestManager_SweepIdle(t *testing.T) {
	h := newHarness()
	m := newTestManager(t, h)
	ctx := context.Background()

	idle, _, _ := m.Start(ctx, Key{UserID: "u1", SessionID: "a"}, StartRequest{})
	h.clock.Advance(50 * time.Minute)
	active, _, _ := m.Start(ctx, Key{UserID: "u2", SessionID: "b"}, StartRequest{})
	h.clock.Advance(20 * time.Minute)

	if n := m.SweepIdle(time.Hour); n != 1 {
		t.Fatalf("Expected one swept session, got %d", n)
	}
	if !idle.Ended() {
		t.Error("Expected idle session to be closed")
	}
	if active.Ended() {
		t.Error("Expected active session to survive")
	}
}

func TestManager_InvalidStats(t *testing.T) {
	h := newHarness()
	defaults := baseOptions()
	defaults.Opponent = domain.Stats{}
	m := NewManager(defaults, nil, h.deps())

	if _, _, err := m.Start(context.Background(), testKey, StartRequest{}); err == nil {
		t.Error("Expected error for zero opponent stats")
	}
}

func TestParseEncounters_Invalid(t *testing.T) {
	if _, err := ParseEncounters([]byte("stages:\n  1:\n    max_hp: 0\n    attack: 5\n")); err == nil {
		t.Error("Expected error for zero max HP")
	}
	if _, err := ParseEncounters([]byte("stages: [")); err == nil {
		t.Error("Expected parse error")
	}
}
