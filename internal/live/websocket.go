package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/quiz-battle/internal/battle"
	"github.com/ashureev/quiz-battle/internal/identity"
	"github.com/ashureev/quiz-battle/internal/store"
)

// Client message types.
const (
	msgPing   = "ping"
	msgAnswer = "answer"
	msgNext   = "next"
)

// Server message types sent in addition to battle events.
const (
	msgPong     = "pong"
	msgSnapshot = "snapshot"
	msgRejected = "rejected"
	msgError    = "error"
)

// WebSocketHandler serves the battle event stream and accepts answers and
// question requests over the same connection.
type WebSocketHandler struct {
	repo          store.Repository
	battles       *battle.Manager
	hub           *Hub
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(repo store.Repository, battles *battle.Manager, hub *Hub, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		repo:          repo,
		battles:       battles,
		hub:           hub,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsMessage represents a client message.
type wsMessage struct {
	Type  string `json:"type"`
	Index *int   `json:"index,omitempty"`
}

type serverMessage struct {
	Type     string       `json:"type"`
	Battle   *battle.View `json:"battle,omitempty"`
	Error    string       `json:"error,omitempty"`
	Accepted *bool        `json:"accepted,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	slog.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	key := battle.Key{UserID: userID, SessionID: sessionID}
	h.hub.Register(key, ws)
	defer h.hub.Unregister(key, ws)

	if s, err := h.battles.Get(key); err == nil {
		view := s.View()
		h.hub.Send(key, serverMessage{Type: msgSnapshot, Battle: &view})
	}

	h.inputLoop(r.Context(), ws, key)
	slog.Info("Battle stream ended", "user_id", userID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, key battle.Key) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", key.UserID)
			} else if !errors.Is(err, context.Canceled) {
				slog.Warn("WebSocket read error", "error", err, "user_id", key.UserID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.hub.Send(key, serverMessage{Type: msgError, Error: "invalid message"})
			continue
		}

		switch msg.Type {
		case msgPing:
			h.hub.Send(key, serverMessage{Type: msgPong})
		case msgAnswer:
			h.answer(ctx, key, msg.Index)
		case msgNext:
			// The fetch may retry for seconds; keep reading pings meanwhile.
			go h.next(context.WithoutCancel(ctx), key)
		default:
			h.hub.Send(key, serverMessage{Type: msgError, Error: "unknown message type"})
			continue
		}

		go func() {
			updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.repo.UpdateLastSeen(updateCtx, key.UserID, time.Now()); err != nil {
				slog.Warn("Failed to update last seen", "error", err)
			}
		}()
	}
}

func (h *WebSocketHandler) answer(ctx context.Context, key battle.Key, index *int) {
	if index == nil || *index < 0 {
		h.hub.Send(key, serverMessage{Type: msgError, Error: "index must be a non-negative integer"})
		return
	}
	s, err := h.battles.Get(key)
	if err != nil {
		h.hub.Send(key, serverMessage{Type: msgError, Error: err.Error()})
		return
	}
	// Accepted answers are reported through the answer event.
	if _, ok := s.SubmitAnswer(ctx, *index); !ok {
		accepted := false
		h.hub.Send(key, serverMessage{Type: msgRejected, Accepted: &accepted})
	}
}

func (h *WebSocketHandler) next(ctx context.Context, key battle.Key) {
	s, err := h.battles.Get(key)
	if err != nil {
		h.hub.Send(key, serverMessage{Type: msgError, Error: err.Error()})
		return
	}
	if _, err := s.LoadQuestion(ctx); err != nil {
		h.hub.Send(key, serverMessage{Type: msgError, Error: err.Error()})
	}
}
