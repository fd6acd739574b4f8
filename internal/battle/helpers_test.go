package battle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/quiz-battle/internal/clock"
	"github.com/ashureev/quiz-battle/internal/domain"
	"github.com/ashureev/quiz-battle/internal/question"
)

var testStart = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

var testKey = Key{UserID: "user-1", SessionID: "tab-1"}

// seqLoader serves numbered questions whose correct index is always 0.
type seqLoader struct {
	mu    sync.Mutex
	n     int
	calls []string
}

func (l *seqLoader) Load(_ context.Context, subject domain.Subject, previous string) (domain.Question, question.Source) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.n++
	l.calls = append(l.calls, previous)
	return domain.Question{
		Prompt:       fmt.Sprintf("%s question %d", subject, l.n),
		Choices:      []string{"right", "wrong-1", "wrong-2", "wrong-3"},
		CorrectIndex: 0,
		Explanation:  "because",
	}, question.SourceRemote
}

// blockingLoader holds Load until release is closed.
type blockingLoader struct {
	entered chan struct{}
	release chan struct{}
}

func (l *blockingLoader) Load(_ context.Context, subject domain.Subject, _ string) (domain.Question, question.Source) {
	close(l.entered)
	<-l.release
	return domain.Question{Prompt: "slow", Choices: []string{"a", "b"}, CorrectIndex: 1}, question.SourceFallback
}

// fakeState is an in-memory StateStore.
type fakeState struct {
	mu      sync.Mutex
	data    map[Key]map[string]string
	clears  int
	saveErr error
}

func newFakeState() *fakeState {
	return &fakeState{data: make(map[Key]map[string]string)}
}

func (f *fakeState) LoadBattleState(_ context.Context, userID, sessionID string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string)
	for k, v := range f.data[Key{userID, sessionID}] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeState) SaveBattleState(_ context.Context, userID, sessionID, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	k := Key{userID, sessionID}
	if f.data[k] == nil {
		f.data[k] = make(map[string]string)
	}
	f.data[k][key] = value
	return nil
}

func (f *fakeState) ClearBattleState(_ context.Context, userID, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	delete(f.data, Key{userID, sessionID})
	return nil
}

func (f *fakeState) get(key Key, name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key][name]
	return v, ok
}

func (f *fakeState) set(key Key, name, value string) {
	_ = f.SaveBattleState(context.Background(), key.UserID, key.SessionID, name, value)
}

// fakeResults records saved results.
type fakeResults struct {
	mu      sync.Mutex
	results []*domain.BattleResult
}

func (f *fakeResults) SaveBattleResult(_ context.Context, r *domain.BattleResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r == nil {
		return errors.New("nil result")
	}
	f.results = append(f.results, r)
	return nil
}

func (f *fakeResults) all() []*domain.BattleResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.BattleResult(nil), f.results...)
}

// recordingSink keeps every published event.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Publish(_ Key, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	clock   *clock.Fake
	state   *fakeState
	results *fakeResults
	sink    *recordingSink
	loader  *seqLoader
}

func newHarness() *harness {
	return &harness{
		clock:   clock.NewFake(testStart),
		state:   newFakeState(),
		results: &fakeResults{},
		sink:    &recordingSink{},
		loader:  &seqLoader{},
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Loader:  h.loader,
		State:   h.state,
		Results: h.results,
		Sink:    h.sink,
		Clock:   h.clock,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func baseOptions() Options {
	return Options{
		Subject:          domain.SubjectMath,
		Player:           domain.Stats{MaxHP: 40, Attack: 20},
		Opponent:         domain.Stats{MaxHP: 120, Attack: 10},
		CounterDelay:     time.Second,
		TerminationDelay: 300 * time.Millisecond,
		EndDelay:         time.Second,
	}
}

func (h *harness) session(opts Options) *Session {
	return NewSession(testKey, opts, h.deps())
}
