// Package api provides HTTP handlers for the quiz battle API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ashureev/quiz-battle/internal/battle"
	"github.com/ashureev/quiz-battle/internal/clock"
	"github.com/ashureev/quiz-battle/internal/identity"
	"github.com/ashureev/quiz-battle/internal/store"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 16

// Handler provides common handler utilities.
type Handler struct {
	repo    store.Repository
	battles *battle.Manager
	clock   clock.Clock
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, battles *battle.Manager, clk clock.Clock) *Handler {
	if clk == nil {
		clk = clock.Real()
	}
	return &Handler{
		repo:    repo,
		battles: battles,
		clock:   clk,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeBody reads an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// battleKey builds the session key from the identity in the request context.
func battleKey(r *http.Request) (battle.Key, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		return battle.Key{}, false
	}
	return battle.Key{
		UserID:    userID,
		SessionID: identity.SessionIDFromContext(r.Context()),
	}, true
}
