// Package battle implements the quiz battle session state machine.
package battle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/quiz-battle/internal/clock"
	"github.com/ashureev/quiz-battle/internal/domain"
	"github.com/ashureev/quiz-battle/internal/question"
)

var (
	// ErrBattleEnded is returned for operations on a finished battle.
	ErrBattleEnded = errors.New("battle has ended")

	// ErrLoadInProgress is returned when a question load is already pending.
	ErrLoadInProgress = errors.New("question load already in progress")

	// ErrNotFound is returned when no session exists for a key.
	ErrNotFound = errors.New("battle not found")
)

// Persisted state keys.
const (
	KeyPlayerHP      = "player.currentHP"
	KeyOpponentHP    = "opponent.currentHP"
	KeyAnswerHistory = "answerHistory"
)

// Key identifies a session by anonymous user and browser tab session.
type Key struct {
	UserID    string
	SessionID string
}

// StateStore is the persistent key/value state of a battle.
type StateStore interface {
	LoadBattleState(ctx context.Context, userID, sessionID string) (map[string]string, error)
	SaveBattleState(ctx context.Context, userID, sessionID, key, value string) error
	ClearBattleState(ctx context.Context, userID, sessionID string) error
}

// ResultRecorder stores finished battles.
type ResultRecorder interface {
	SaveBattleResult(ctx context.Context, result *domain.BattleResult) error
}

// QuestionLoader returns a valid question for a subject and never fails.
type QuestionLoader interface {
	Load(ctx context.Context, subject domain.Subject, previous string) (domain.Question, question.Source)
}

// Options are the per-battle parameters.
type Options struct {
	Subject  domain.Subject
	Stage    int
	Player   domain.Stats
	Opponent domain.Stats

	// CounterAttack makes the opponent retaliate after a correct answer.
	CounterAttack bool
	CounterDelay  time.Duration

	// TerminationDelay is the pause between an HP change and the
	// termination check. Zero checks synchronously.
	TerminationDelay time.Duration

	// EndDelay is the pause between the end of the battle and navigation.
	EndDelay time.Duration
}

// Deps are the collaborators of a session. Only Loader is required.
type Deps struct {
	Loader  QuestionLoader
	State   StateStore
	Results ResultRecorder
	Sink    Sink
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Session is one battle. All mutations hold mu; deferred steps re-acquire it
// and re-check the ended flag when they fire.
type Session struct {
	mu sync.Mutex

	id   string
	key  Key
	opts Options
	deps Deps
	log  *slog.Logger

	current    *domain.Question
	source     question.Source
	lastAnswer *AnswerResult
	answering  bool
	loading    bool

	ended    bool
	finished bool
	closed   bool
	outcome  domain.Outcome
	nav      *domain.Navigation

	questionCount int
	history       domain.AnswerHistory
	player        domain.Combatant
	opponent      domain.Combatant

	startedAt time.Time
	touchedAt time.Time
}

// NewSession creates a session with both combatants at full health.
func NewSession(key Key, opts Options, deps Deps) *Session {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	opts.Subject = domain.NormalizeSubject(string(opts.Subject))

	id := uuid.NewString()
	now := deps.Clock.Now()
	return &Session{
		id:   id,
		key:  key,
		opts: opts,
		deps: deps,
		log: deps.Logger.With(
			"user_id", key.UserID,
			"session_id", key.SessionID,
			"battle_id", id,
		),
		history:   domain.AnswerHistory{},
		player:    domain.NewCombatant(domain.RolePlayer, opts.Player),
		opponent:  domain.NewCombatant(domain.RoleOpponent, opts.Opponent),
		startedAt: now,
		touchedAt: now,
	}
}

// ID returns the battle ID.
func (s *Session) ID() string {
	return s.id
}

// Key returns the session key.
func (s *Session) Key() Key {
	return s.key
}

// Subject returns the battle subject.
func (s *Session) Subject() domain.Subject {
	return s.opts.Subject
}

// Restore loads HP and answer history persisted by an earlier page load.
// It reports whether any state was found.
func (s *Session) Restore(ctx context.Context) (bool, error) {
	if s.deps.State == nil {
		return false, nil
	}
	state, err := s.deps.State.LoadBattleState(ctx, s.key.UserID, s.key.SessionID)
	if err != nil {
		return false, fmt.Errorf("load battle state: %w", err)
	}
	if len(state) == 0 {
		return false, nil
	}

	s.mu.Lock()
	restored := false
	if raw, ok := state[KeyPlayerHP]; ok {
		if hp, err := strconv.Atoi(raw); err == nil {
			s.player.SetHP(hp)
			restored = true
		}
	}
	if raw, ok := state[KeyOpponentHP]; ok {
		if hp, err := strconv.Atoi(raw); err == nil {
			s.opponent.SetHP(hp)
			restored = true
		}
	}
	if raw, ok := state[KeyAnswerHistory]; ok {
		h, err := domain.DecodeAnswerHistory(raw)
		if err != nil {
			s.log.Warn("discarding unreadable answer history", "error", err)
		} else {
			s.history = h
			restored = true
		}
	}
	var events []Event
	if s.player.Defeated() || s.opponent.Defeated() {
		events = s.scheduleLocked(ctx, s.opts.TerminationDelay, s.checkTerminationLocked)
	}
	s.mu.Unlock()

	s.publish(events)
	return restored, nil
}

// LoadQuestion replaces the current question. The fetch runs without the
// session lock; a second call while one is pending fails with
// ErrLoadInProgress.
func (s *Session) LoadQuestion(ctx context.Context) (QuestionView, error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return QuestionView{}, ErrBattleEnded
	}
	if s.loading {
		s.mu.Unlock()
		return QuestionView{}, ErrLoadInProgress
	}
	s.loading = true
	previous := ""
	if s.current != nil {
		previous = s.current.Prompt
	}
	s.mu.Unlock()

	q, src := s.deps.Loader.Load(ctx, s.opts.Subject, previous)

	s.mu.Lock()
	s.loading = false
	if s.ended {
		s.mu.Unlock()
		return QuestionView{}, ErrBattleEnded
	}
	s.questionCount++
	s.current = &q
	s.source = src
	s.answering = false
	s.lastAnswer = nil
	s.touchedAt = s.deps.Clock.Now()
	view := s.questionViewLocked()
	s.mu.Unlock()

	s.log.Debug("question loaded", "number", view.Number, "source", src)
	s.publish([]Event{{Type: EventQuestion, Question: &view}})
	return view, nil
}

// SubmitAnswer evaluates selected against the current question. It reports
// false without changing state when there is no question, the question was
// already answered, or the battle has ended.
func (s *Session) SubmitAnswer(ctx context.Context, selected int) (AnswerResult, bool) {
	s.mu.Lock()
	if s.ended || s.current == nil || s.answering {
		s.mu.Unlock()
		return AnswerResult{}, false
	}
	s.answering = true
	s.touchedAt = s.deps.Clock.Now()

	q := *s.current
	correct := selected == q.CorrectIndex
	s.history.Record(s.opts.Subject, correct)
	s.persistHistoryLocked(ctx)

	result := evaluate(q, selected, correct)
	s.lastAnswer = &result

	events := []Event{{Type: EventAnswer, Answer: &result}}
	if correct {
		events = append(events, s.applyDamageLocked(ctx, domain.RoleOpponent, -s.player.Attack)...)
		if s.opts.CounterAttack {
			events = append(events, s.scheduleLocked(ctx, s.opts.CounterDelay, s.counterAttackLocked)...)
		}
	} else {
		events = append(events, s.applyDamageLocked(ctx, domain.RolePlayer, -s.opponent.Attack)...)
	}
	s.mu.Unlock()

	s.publish(events)
	return result, true
}

// ApplyDamage adds amount to the target's HP, clamped into [0, MaxHP].
// Negative amounts are damage, positive amounts heal. It reports false once
// the battle has ended.
func (s *Session) ApplyDamage(ctx context.Context, target domain.Role, amount int) bool {
	if !target.Valid() {
		return false
	}
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false
	}
	s.touchedAt = s.deps.Clock.Now()
	events := s.applyDamageLocked(ctx, target, amount)
	s.mu.Unlock()

	s.publish(events)
	return true
}

// View returns a snapshot. The correct index of an unanswered question is
// never included.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		BattleID:      s.id,
		Subject:       s.opts.Subject,
		Stage:         s.opts.Stage,
		Answering:     s.answering,
		Loading:       s.loading,
		QuestionCount: s.questionCount,
		Player:        hpView(s.player),
		Opponent:      hpView(s.opponent),
		History:       s.history.Clone(),
		Ended:         s.ended,
		Outcome:       s.outcome,
	}
	if s.current != nil {
		qv := s.questionViewLocked()
		v.Question = &qv
	}
	if s.lastAnswer != nil {
		a := *s.lastAnswer
		v.LastAnswer = &a
	}
	if s.nav != nil {
		n := *s.nav
		v.Navigation = &n
	}
	return v
}

// Ended reports whether the battle has reached its terminal state.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// IdleSince returns when the session was last used.
func (s *Session) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touchedAt
}

// close stops the session from emitting further events. Pending deferred
// steps become no-ops.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	s.closed = true
}

func (s *Session) combatant(role domain.Role) *domain.Combatant {
	if role == domain.RolePlayer {
		return &s.player
	}
	return &s.opponent
}

func (s *Session) applyDamageLocked(ctx context.Context, role domain.Role, amount int) []Event {
	if s.ended {
		return nil
	}
	c := s.combatant(role)
	c.Apply(amount)
	s.persistLocked(ctx, hpKey(role), strconv.Itoa(c.HP))

	view := hpView(*c)
	events := []Event{{Type: EventHP, HP: &view}}
	return append(events, s.scheduleLocked(ctx, s.opts.TerminationDelay, s.checkTerminationLocked)...)
}

func (s *Session) counterAttackLocked(ctx context.Context) []Event {
	if s.ended {
		return nil
	}
	return s.applyDamageLocked(ctx, domain.RolePlayer, -s.opponent.Attack)
}

// checkTerminationLocked moves the battle to its terminal state at most
// once. The player is checked first, so a double knockout is a defeat.
func (s *Session) checkTerminationLocked(ctx context.Context) []Event {
	if s.ended {
		return nil
	}
	switch {
	case s.player.Defeated():
		s.outcome = domain.OutcomeDefeat
	case s.opponent.Defeated():
		s.outcome = domain.OutcomeVictory
	default:
		return nil
	}
	s.ended = true
	s.log.Info("battle ended", "outcome", s.outcome, "questions", s.questionCount)

	events := []Event{{Type: EventEnded, Outcome: s.outcome}}
	return append(events, s.scheduleLocked(ctx, s.opts.EndDelay, s.finishLocked)...)
}

// finishLocked clears persisted state and emits the navigation signal.
func (s *Session) finishLocked(ctx context.Context) []Event {
	if s.finished || s.closed {
		return nil
	}
	s.finished = true

	nav := domain.Navigation{Outcome: s.outcome, Target: domain.DefeatTarget}
	history := s.history.Clone()
	if s.outcome == domain.OutcomeVictory {
		nav.Target = domain.VictoryTarget
		if stored, ok := s.storedHistoryLocked(ctx); ok {
			history = stored
		}
		payload, err := history.Encode()
		if err != nil {
			s.log.Warn("failed to encode result payload", "error", err)
		} else {
			nav.Payload = payload
		}
	}

	s.recordResultLocked(ctx, history)

	if s.deps.State != nil {
		if err := s.deps.State.ClearBattleState(ctx, s.key.UserID, s.key.SessionID); err != nil {
			s.log.Warn("failed to clear battle state", "error", err)
		}
	}

	s.nav = &nav
	return []Event{{Type: EventNavigate, Navigation: &nav}}
}

func (s *Session) storedHistoryLocked(ctx context.Context) (domain.AnswerHistory, bool) {
	if s.deps.State == nil {
		return nil, false
	}
	state, err := s.deps.State.LoadBattleState(ctx, s.key.UserID, s.key.SessionID)
	if err != nil {
		s.log.Warn("failed to read answer history", "error", err)
		return nil, false
	}
	raw, ok := state[KeyAnswerHistory]
	if !ok {
		return nil, false
	}
	h, err := domain.DecodeAnswerHistory(raw)
	if err != nil {
		s.log.Warn("failed to decode answer history", "error", err)
		return nil, false
	}
	return h, true
}

func (s *Session) recordResultLocked(ctx context.Context, history domain.AnswerHistory) {
	if s.deps.Results == nil {
		return
	}
	result := &domain.BattleResult{
		ResultID:      uuid.NewString(),
		UserID:        s.key.UserID,
		SessionID:     s.key.SessionID,
		BattleID:      s.id,
		Subject:       s.opts.Subject,
		Outcome:       s.outcome,
		History:       history,
		QuestionCount: s.questionCount,
		PlayerHP:      s.player.HP,
		OpponentHP:    s.opponent.HP,
		StartedAt:     s.startedAt,
		EndedAt:       s.deps.Clock.Now(),
	}
	if err := s.deps.Results.SaveBattleResult(ctx, result); err != nil {
		s.log.Warn("failed to record battle result", "error", err)
	}
}

// scheduleLocked runs step after d. A non-positive d runs it inline and
// returns its events; otherwise the step runs on a timer under the lock and
// its events are published after unlocking.
func (s *Session) scheduleLocked(ctx context.Context, d time.Duration, step func(context.Context) []Event) []Event {
	if d <= 0 {
		return step(ctx)
	}
	detached := context.WithoutCancel(ctx)
	s.deps.Clock.AfterFunc(d, func() {
		s.mu.Lock()
		events := step(detached)
		s.mu.Unlock()
		s.publish(events)
	})
	return nil
}

func (s *Session) persistHistoryLocked(ctx context.Context) {
	raw, err := s.history.Encode()
	if err != nil {
		s.log.Warn("failed to encode answer history", "error", err)
		return
	}
	s.persistLocked(ctx, KeyAnswerHistory, raw)
}

func (s *Session) persistLocked(ctx context.Context, key, value string) {
	if s.deps.State == nil {
		return
	}
	if err := s.deps.State.SaveBattleState(ctx, s.key.UserID, s.key.SessionID, key, value); err != nil {
		s.log.Warn("failed to persist battle state", "key", key, "error", err)
	}
}

func (s *Session) questionViewLocked() QuestionView {
	return QuestionView{
		Number:  s.questionCount,
		Prompt:  s.current.Prompt,
		Choices: append([]string(nil), s.current.Choices...),
		Source:  s.source,
	}
}

func (s *Session) publish(events []Event) {
	if s.deps.Sink == nil {
		return
	}
	for _, ev := range events {
		ev.BattleID = s.id
		s.deps.Sink.Publish(s.key, ev)
	}
}

func hpKey(role domain.Role) string {
	if role == domain.RolePlayer {
		return KeyPlayerHP
	}
	return KeyOpponentHP
}

func evaluate(q domain.Question, selected int, correct bool) AnswerResult {
	states := make([]ChoiceState, len(q.Choices))
	if selected >= 0 && selected < len(states) && !correct {
		states[selected] = ChoiceIncorrect
	}
	if q.CorrectIndex >= 0 && q.CorrectIndex < len(states) {
		states[q.CorrectIndex] = ChoiceCorrect
	}

	message := "正解です！" + q.Explanation
	if !correct {
		message = fmt.Sprintf("不正解です。正解は「%s」です。%s", q.CorrectChoice(), q.Explanation)
	}
	return AnswerResult{
		Correct:       correct,
		SelectedIndex: selected,
		CorrectIndex:  q.CorrectIndex,
		Choices:       states,
		Message:       message,
		Explanation:   q.Explanation,
	}
}
