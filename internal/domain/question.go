package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidQuestion is returned when a question breaks its invariants.
var ErrInvalidQuestion = errors.New("invalid question")

// Subject is the academic category a question belongs to.
type Subject string

const (
	SubjectMath    Subject = "math"
	SubjectKanji   Subject = "kanji"
	SubjectEnglish Subject = "english"
)

// KnownSubjects lists the subjects with a built-in fallback set.
var KnownSubjects = []Subject{SubjectMath, SubjectKanji, SubjectEnglish}

// NormalizeSubject trims and lowercases a subject, defaulting to math.
func NormalizeSubject(s string) Subject {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return SubjectMath
	}
	return Subject(s)
}

// IsKnown reports whether the subject has a built-in fallback set.
func (s Subject) IsKnown() bool {
	for _, known := range KnownSubjects {
		if s == known {
			return true
		}
	}
	return false
}

// Question is a single multiple-choice quiz item.
type Question struct {
	Prompt       string   `json:"question" yaml:"question"`
	Choices      []string `json:"choices" yaml:"choices"`
	CorrectIndex int      `json:"correct_answer" yaml:"correct_answer"`
	Explanation  string   `json:"explanation" yaml:"explanation"`
}

// Validate checks the question text, the choice list and the correct index.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Prompt) == "" {
		return fmt.Errorf("%w: question text is empty", ErrInvalidQuestion)
	}
	if len(q.Choices) == 0 {
		return fmt.Errorf("%w: no choices", ErrInvalidQuestion)
	}
	if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Choices) {
		return fmt.Errorf("%w: correct index %d out of range [0,%d)", ErrInvalidQuestion, q.CorrectIndex, len(q.Choices))
	}
	return nil
}

// CorrectChoice returns the text of the correct option.
func (q Question) CorrectChoice() string {
	if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Choices) {
		return ""
	}
	return q.Choices[q.CorrectIndex]
}
