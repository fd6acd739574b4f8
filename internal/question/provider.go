// Package question acquires quiz questions from the generator service,
// retrying transient failures and falling back to a built-in bank.
package question

import (
	"context"
	"errors"

	"github.com/ashureev/quiz-battle/internal/domain"
)

//go:generate go tool mockgen -destination=./mocks/provider_mock.go -package=mocks . Provider

var (
	// ErrInvalidPayload is returned when a response lacks the question text,
	// the choice list, or a usable correct index.
	ErrInvalidPayload = errors.New("invalid question payload")

	// ErrUnexpectedStatus is returned for non-2xx responses.
	ErrUnexpectedStatus = errors.New("unexpected status from question provider")
)

// Provider fetches one question for a subject. attempt starts at 0 and is
// forwarded so every retry has a distinct request identity.
type Provider interface {
	Fetch(ctx context.Context, subject domain.Subject, attempt int) (domain.Question, error)
}

// Source reports where a loaded question came from.
type Source string

const (
	SourceRemote   Source = "remote"
	SourceFallback Source = "fallback"
)
