package question

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/quiz-battle/internal/clock"
	"github.com/ashureev/quiz-battle/internal/domain"
)

// errDuplicate marks a fetched question that repeats the previous prompt.
var errDuplicate = errors.New("duplicate of previous question")

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = time.Second
)

// Loader fetches a question with bounded retries and never fails: once
// attempts are exhausted it serves a question from the fallback bank.
type Loader struct {
	provider    Provider
	bank        *Bank
	clock       clock.Clock
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithRetry overrides the attempt bound and the fixed inter-attempt delay.
func WithRetry(maxAttempts int, delay time.Duration) LoaderOption {
	return func(l *Loader) {
		if maxAttempts > 0 {
			l.maxAttempts = maxAttempts
		}
		if delay >= 0 {
			l.retryDelay = delay
		}
	}
}

// WithClock sets the clock used to wait between attempts.
func WithClock(c clock.Clock) LoaderOption {
	return func(l *Loader) {
		l.clock = c
	}
}

// WithLogger sets the logger for transient failures.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a loader. provider may be nil, in which case every load
// is served from the bank.
func NewLoader(provider Provider, bank *Bank, opts ...LoaderOption) *Loader {
	l := &Loader{
		provider:    provider,
		bank:        bank,
		clock:       clock.Real(),
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns a valid question for subject. previous is the prompt of the
// question being replaced; a fetch that repeats it counts as a failed attempt.
func (l *Loader) Load(ctx context.Context, subject domain.Subject, previous string) (domain.Question, Source) {
	if l.provider != nil {
		for attempt := 0; attempt < l.maxAttempts; attempt++ {
			if attempt > 0 {
				if err := l.clock.Sleep(ctx, l.retryDelay); err != nil {
					break
				}
			}

			q, err := l.fetch(ctx, subject, attempt, previous)
			if err == nil {
				return q, SourceRemote
			}
			if ctx.Err() != nil {
				break
			}
			l.logger.Warn("question fetch failed",
				"subject", subject,
				"attempt", attempt+1,
				"max_attempts", l.maxAttempts,
				"error", err,
			)
		}
	}

	q := l.bank.Pick(subject, previous)
	l.logger.Info("serving fallback question", "subject", subject)
	return q, SourceFallback
}

func (l *Loader) fetch(ctx context.Context, subject domain.Subject, attempt int, previous string) (domain.Question, error) {
	q, err := l.provider.Fetch(ctx, subject, attempt)
	if err != nil {
		return domain.Question{}, err
	}
	if err := q.Validate(); err != nil {
		return domain.Question{}, errors.Join(ErrInvalidPayload, err)
	}
	if previous != "" && q.Prompt == previous {
		return domain.Question{}, errDuplicate
	}
	return q, nil
}
