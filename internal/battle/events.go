package battle

import (
	"github.com/ashureev/quiz-battle/internal/domain"
	"github.com/ashureev/quiz-battle/internal/question"
)

// EventType identifies an event pushed to the presentation layer.
type EventType string

const (
	EventQuestion EventType = "question"
	EventAnswer   EventType = "answer"
	EventHP       EventType = "hp"
	EventEnded    EventType = "ended"
	EventNavigate EventType = "navigate"
)

// Event is a state change emitted by a session.
type Event struct {
	Type       EventType          `json:"type"`
	BattleID   string             `json:"battle_id"`
	Question   *QuestionView      `json:"question,omitempty"`
	Answer     *AnswerResult      `json:"answer,omitempty"`
	HP         *HPView            `json:"hp,omitempty"`
	Outcome    domain.Outcome     `json:"outcome,omitempty"`
	Navigation *domain.Navigation `json:"navigation,omitempty"`
}

// Sink receives session events. Publish is called without the session lock.
type Sink interface {
	Publish(key Key, ev Event)
}

// ChoiceState marks how a choice is highlighted after an answer.
type ChoiceState string

const (
	ChoiceNone      ChoiceState = ""
	ChoiceCorrect   ChoiceState = "correct"
	ChoiceIncorrect ChoiceState = "incorrect"
)

// AnswerResult is the evaluation of one submitted answer.
type AnswerResult struct {
	Correct       bool          `json:"correct"`
	SelectedIndex int           `json:"selected_index"`
	CorrectIndex  int           `json:"correct_index"`
	Choices       []ChoiceState `json:"choices"`
	Message       string        `json:"message"`
	Explanation   string        `json:"explanation"`
}

// QuestionView is a question as shown before it is answered.
type QuestionView struct {
	Number  int             `json:"number"`
	Prompt  string          `json:"question"`
	Choices []string        `json:"choices"`
	Source  question.Source `json:"source"`
}

// HPView is the renderable HP state of one combatant.
type HPView struct {
	Role    domain.Role   `json:"role"`
	HP      int           `json:"hp"`
	MaxHP   int           `json:"max_hp"`
	Percent float64       `json:"percent"`
	Band    domain.HPBand `json:"band"`
}

func hpView(c domain.Combatant) HPView {
	return HPView{
		Role:    c.Role,
		HP:      c.HP,
		MaxHP:   c.MaxHP,
		Percent: c.Percent(),
		Band:    c.Band(),
	}
}

// View is a full snapshot of a session.
type View struct {
	BattleID      string               `json:"battle_id"`
	Subject       domain.Subject       `json:"subject"`
	Stage         int                  `json:"stage,omitempty"`
	Question      *QuestionView        `json:"question,omitempty"`
	LastAnswer    *AnswerResult        `json:"last_answer,omitempty"`
	Answering     bool                 `json:"answering"`
	Loading       bool                 `json:"loading"`
	QuestionCount int                  `json:"question_count"`
	Player        HPView               `json:"player"`
	Opponent      HPView               `json:"opponent"`
	History       domain.AnswerHistory `json:"history"`
	Ended         bool                 `json:"ended"`
	Outcome       domain.Outcome       `json:"outcome,omitempty"`
	Navigation    *domain.Navigation   `json:"navigation,omitempty"`
}
