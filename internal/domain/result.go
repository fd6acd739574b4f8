package domain

import (
	"time"
)

// Outcome is how a battle ended.
type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeVictory Outcome = "victory"
	OutcomeDefeat  Outcome = "defeat"
)

// Navigation targets for the terminal signal.
const (
	VictoryTarget = "/result"
	DefeatTarget  = "/gameover"
)

// Navigation is the terminal signal sent to the presentation layer.
// Payload carries the serialized answer history on victory only.
type Navigation struct {
	Outcome Outcome `json:"outcome"`
	Target  string  `json:"target"`
	Payload string  `json:"payload,omitempty"`
}

// BattleResult is the stored record of a finished battle.
type BattleResult struct {
	ResultID      string        `json:"result_id"`
	UserID        string        `json:"-"`
	SessionID     string        `json:"session_id"`
	BattleID      string        `json:"battle_id"`
	Subject       Subject       `json:"subject"`
	Outcome       Outcome       `json:"outcome"`
	History       AnswerHistory `json:"history"`
	QuestionCount int           `json:"question_count"`
	PlayerHP      int           `json:"player_hp"`
	OpponentHP    int           `json:"opponent_hp"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       time.Time     `json:"ended_at"`
}

// WindowSummary aggregates results over one time window.
type WindowSummary struct {
	Battles   int           `json:"battles"`
	Victories int           `json:"victories"`
	Defeats   int           `json:"defeats"`
	Correct   int           `json:"correct"`
	Total     int           `json:"total"`
	Accuracy  int           `json:"accuracy"`
	Subjects  AnswerHistory `json:"subjects"`
}

func (w *WindowSummary) add(r *BattleResult) {
	w.Battles++
	switch r.Outcome {
	case OutcomeVictory:
		w.Victories++
	case OutcomeDefeat:
		w.Defeats++
	}
	w.Subjects.Merge(r.History)
	overall := r.History.Overall()
	w.Correct += overall.Correct
	w.Total += overall.Total
	w.Accuracy = Tally{Correct: w.Correct, Total: w.Total}.Accuracy()
}

// StatsSummary is the result-screen summary over fixed windows.
type StatsSummary struct {
	Last7Days  WindowSummary `json:"last_7_days"`
	Last30Days WindowSummary `json:"last_30_days"`
	AllTime    WindowSummary `json:"all_time"`
}

// Summarize buckets results by end time relative to now.
func Summarize(results []*BattleResult, now time.Time) StatsSummary {
	s := StatsSummary{
		Last7Days:  WindowSummary{Subjects: AnswerHistory{}},
		Last30Days: WindowSummary{Subjects: AnswerHistory{}},
		AllTime:    WindowSummary{Subjects: AnswerHistory{}},
	}
	week := now.Add(-7 * 24 * time.Hour)
	month := now.Add(-30 * 24 * time.Hour)
	for _, r := range results {
		if r == nil {
			continue
		}
		s.AllTime.add(r)
		if r.EndedAt.After(month) {
			s.Last30Days.add(r)
		}
		if r.EndedAt.After(week) {
			s.Last7Days.add(r)
		}
	}
	return s
}
