// Package identity provides anonymous per-device player identity and the
// per-tab battle session ID.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/quiz-battle/internal/domain"
	"github.com/ashureev/quiz-battle/internal/store"
)

const (
	AnonCookieName        = "qb_anon_id"
	SessionHeaderName     = "X-Battle-Session-ID"
	DefaultSessionIDValue = "default"
	anonCookieMaxAge      = 30 * 24 * time.Hour
	lastSeenResolution    = time.Minute
)

// Player is the identity attached to every request.
type Player struct {
	UserID    string
	Username  string
	SessionID string
}

type playerKey struct{}

var (
	anonIDPattern    = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// PlayerFromContext returns the player stored by Middleware or WithIdentity.
func PlayerFromContext(ctx context.Context) (Player, bool) {
	p, ok := ctx.Value(playerKey{}).(Player)
	return p, ok
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	p, _ := PlayerFromContext(ctx)
	return p.UserID
}

// UsernameFromContext extracts the username from the request context.
func UsernameFromContext(ctx context.Context) string {
	p, _ := PlayerFromContext(ctx)
	return p.Username
}

// SessionIDFromContext extracts the tab session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if p, ok := PlayerFromContext(ctx); ok && p.SessionID != "" {
		return p.SessionID
	}
	return DefaultSessionIDValue
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func deriveUsername(userID string) string {
	if len(userID) > 13 {
		return "player-" + userID[len(userID)-8:]
	}
	return "player"
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}

// resolver turns a request into a Player, keeping the player record and
// the device cookie alive together.
type resolver struct {
	repo  store.Repository
	isDev bool
	now   func() time.Time
}

// resolve reads the device cookie and loads or creates the player. The
// cookie expiry slides forward whenever last_seen_at is written, which
// happens for new players and at most once per lastSeenResolution after.
func (rv *resolver) resolve(w http.ResponseWriter, r *http.Request) (Player, error) {
	userID := ""
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		userID = c.Value
	}
	minted := userID == ""
	if minted {
		id, err := generateAnonID()
		if err != nil {
			return Player{}, err
		}
		userID = id
	}

	player := Player{
		UserID:    userID,
		Username:  deriveUsername(userID),
		SessionID: sessionIDFromRequest(r),
	}

	var user *domain.User
	if !minted {
		var err error
		if user, err = rv.repo.GetUser(r.Context(), userID); err != nil {
			return Player{}, err
		}
	}

	now := rv.now()
	if user != nil && user.Username != "" {
		player.Username = user.Username
	}
	switch {
	case user == nil:
		err := rv.repo.UpsertUser(r.Context(), &domain.User{
			UserID:     userID,
			Username:   player.Username,
			LastSeenAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if err != nil {
			return Player{}, err
		}
	case user.IdleFor(now) < lastSeenResolution:
		return player, nil
	default:
		if err := rv.repo.UpdateLastSeen(r.Context(), userID, now); err != nil {
			return Player{}, err
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    userID,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  now.Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !rv.isDev,
	})
	return player, nil
}

// Middleware injects the anonymous player identity and the tab session ID
// into the request context.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	rv := &resolver{repo: repo, isDev: isDev, now: time.Now}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			player, err := rv.resolve(w, r)
			if err != nil {
				slog.Error("failed to resolve player", "error", err, "ip", IPFromRequest(r))
				http.Error(w, `{"error":"failed to initialize player"}`, http.StatusInternalServerError)
				return
			}
			ctx := context.WithValue(r.Context(), playerKey{}, player)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns the remote IP for request logging.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// WithIdentity returns ctx carrying the given identity. Handlers that bypass
// Middleware, such as tests, use it to inject a player.
func WithIdentity(ctx context.Context, userID, sessionID string) context.Context {
	return context.WithValue(ctx, playerKey{}, Player{
		UserID:    userID,
		Username:  deriveUsername(userID),
		SessionID: sanitizeSessionID(sessionID),
	})
}
