package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Tally counts answers for one subject.
type Tally struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
}

// Accuracy returns the rounded percentage of correct answers.
func (t Tally) Accuracy() int {
	if t.Total == 0 {
		return 0
	}
	return (t.Correct*100 + t.Total/2) / t.Total
}

// Add returns the sum of two tallies.
func (t Tally) Add(o Tally) Tally {
	return Tally{Correct: t.Correct + o.Correct, Total: t.Total + o.Total}
}

// AnswerHistory is the per-subject answer tally of a battle.
type AnswerHistory map[Subject]Tally

// Record counts one answer for subject.
func (h AnswerHistory) Record(subject Subject, correct bool) {
	t := h[subject]
	t.Total++
	if correct {
		t.Correct++
	}
	h[subject] = t
}

// Overall sums the tallies of every subject.
func (h AnswerHistory) Overall() Tally {
	var sum Tally
	for _, t := range h {
		sum = sum.Add(t)
	}
	return sum
}

// Merge adds every tally of o into h.
func (h AnswerHistory) Merge(o AnswerHistory) {
	for subject, t := range o {
		h[subject] = h[subject].Add(t)
	}
}

// Clone returns an independent copy.
func (h AnswerHistory) Clone() AnswerHistory {
	out := make(AnswerHistory, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Subjects returns the recorded subjects in sorted order.
func (h AnswerHistory) Subjects() []Subject {
	out := make([]Subject, 0, len(h))
	for k := range h {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Encode serializes the history as JSON text.
func (h AnswerHistory) Encode() (string, error) {
	if h == nil {
		h = AnswerHistory{}
	}
	data, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("encode answer history: %w", err)
	}
	return string(data), nil
}

// DecodeAnswerHistory parses JSON text produced by Encode.
// Empty input yields an empty history.
func DecodeAnswerHistory(raw string) (AnswerHistory, error) {
	h := AnswerHistory{}
	if raw == "" {
		return h, nil
	}
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return AnswerHistory{}, fmt.Errorf("decode answer history: %w", err)
	}
	return h, nil
}
