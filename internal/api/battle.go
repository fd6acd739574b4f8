package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/quiz-battle/internal/battle"
	"github.com/ashureev/quiz-battle/internal/domain"
	"github.com/ashureev/quiz-battle/internal/identity"
)

const (
	defaultResultsLimit = 20
	maxResultsLimit     = 100
)

// BattleHandler handles battle and result endpoints.
type BattleHandler struct {
	*Handler
}

// NewBattleHandler creates a new battle handler.
func NewBattleHandler(base *Handler) *BattleHandler {
	return &BattleHandler{Handler: base}
}

// RegisterRoutes registers battle routes.
func (h *BattleHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/battle", func(r chi.Router) {
		r.Use(middleware.NoCache)
		r.Post("/", h.Start)
		r.Get("/", h.Get)
		r.Delete("/", h.Abandon)
		r.Post("/question", h.Question)
		r.Post("/answer", h.Answer)
		r.Post("/heal", h.Heal)
	})
	r.Get("/api/results", h.Results)
	r.Get("/api/stats", h.Stats)
}

type startRequest struct {
	Subject        string `json:"subject"`
	Stage          int    `json:"stage"`
	OpponentMaxHP  int    `json:"opponent_max_hp"`
	OpponentAttack int    `json:"opponent_attack"`
	Restart        bool   `json:"restart"`
}

type answerRequest struct {
	Index *int `json:"index"`
}

type healRequest struct {
	Amount int `json:"amount"`
}

// Start enters a battle, resuming the live or persisted one when it matches.
func (h *BattleHandler) Start(w http.ResponseWriter, r *http.Request) {
	key, ok := battleKey(r)
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req startRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s, resumed, err := h.battles.Start(r.Context(), key, battle.StartRequest{
		Subject:        req.Subject,
		Stage:          req.Stage,
		OpponentMaxHP:  req.OpponentMaxHP,
		OpponentAttack: req.OpponentAttack,
		Restart:        req.Restart,
	})
	if err != nil {
		slog.Warn("Failed to start battle", "error", err, "user_id", key.UserID, "session_id", key.SessionID)
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	slog.Info("Battle started", "user_id", key.UserID, "session_id", key.SessionID,
		"battle_id", s.ID(), "resumed", resumed)
	JSON(w, http.StatusOK, map[string]any{
		"username": identity.UsernameFromContext(r.Context()),
		"resumed":  resumed,
		"battle":   s.View(),
	})
}

// Get returns the snapshot of the caller's battle.
func (h *BattleHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, s.View())
}

// Abandon drops the caller's battle and its persisted state.
func (h *BattleHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	key, ok := battleKey(r)
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.battles.Abandon(r.Context(), key); err != nil && !errors.Is(err, battle.ErrNotFound) {
		slog.Error("Failed to abandon battle", "error", err, "user_id", key.UserID, "session_id", key.SessionID)
		Error(w, http.StatusInternalServerError, "failed to clear battle state")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "abandoned"})
}

// Question loads the next question.
func (h *BattleHandler) Question(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := s.LoadQuestion(r.Context())
	if err != nil {
		writeSessionError(w, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

// Answer submits the selected choice. A submission that cannot be accepted
// is reported with accepted=false rather than an error status.
func (h *BattleHandler) Answer(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req answerRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Index == nil || *req.Index < 0 {
		Error(w, http.StatusBadRequest, "index must be a non-negative integer")
		return
	}

	result, accepted := s.SubmitAnswer(r.Context(), *req.Index)
	if !accepted {
		JSON(w, http.StatusOK, map[string]any{"accepted": false})
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"accepted": true,
		"answer":   result,
		"battle":   s.View(),
	})
}

// Heal restores player HP.
func (h *BattleHandler) Heal(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req healRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Amount <= 0 {
		Error(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if !s.ApplyDamage(r.Context(), domain.RolePlayer, req.Amount) {
		writeSessionError(w, battle.ErrBattleEnded)
		return
	}
	JSON(w, http.StatusOK, s.View())
}

// Results lists the caller's most recent finished battles.
func (h *BattleHandler) Results(w http.ResponseWriter, r *http.Request) {
	key, ok := battleKey(r)
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := defaultResultsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxResultsLimit)
	}

	results, err := h.repo.ListBattleResults(r.Context(), key.UserID, time.Time{}, limit)
	if err != nil {
		slog.Error("Failed to list battle results", "error", err, "user_id", key.UserID)
		Error(w, http.StatusInternalServerError, "failed to load results")
		return
	}
	if results == nil {
		results = []*domain.BattleResult{}
	}
	JSON(w, http.StatusOK, map[string]any{"results": results})
}

// Stats summarizes the caller's accuracy over fixed windows.
func (h *BattleHandler) Stats(w http.ResponseWriter, r *http.Request) {
	key, ok := battleKey(r)
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	results, err := h.repo.ListBattleResults(r.Context(), key.UserID, time.Time{}, 0)
	if err != nil {
		slog.Error("Failed to list battle results", "error", err, "user_id", key.UserID)
		Error(w, http.StatusInternalServerError, "failed to load results")
		return
	}
	JSON(w, http.StatusOK, domain.Summarize(results, h.clock.Now()))
}

func (h *BattleHandler) session(w http.ResponseWriter, r *http.Request) (*battle.Session, bool) {
	key, ok := battleKey(r)
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	s, err := h.battles.Get(key)
	if err != nil {
		writeSessionError(w, err)
		return nil, false
	}
	return s, true
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, battle.ErrNotFound):
		Error(w, http.StatusNotFound, "no active battle")
	case errors.Is(err, battle.ErrBattleEnded):
		Error(w, http.StatusConflict, "battle has ended")
	case errors.Is(err, battle.ErrLoadInProgress):
		Error(w, http.StatusConflict, "question load already in progress")
	default:
		Error(w, http.StatusInternalServerError, err.Error())
	}
}
