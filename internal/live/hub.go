// Package live streams battle events to connected browsers over WebSocket.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/quiz-battle/internal/battle"
)

const (
	sendQueueSize = 32
	writeTimeout  = 5 * time.Second
)

// Conn is the part of a WebSocket connection the hub writes to.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// client owns one connection. Only writeLoop writes to conn.
type client struct {
	conn Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				slog.Debug("WebSocket write error", "error", err)
				c.stop()
				return
			}
		}
	}
}

// enqueue queues msg without blocking. It reports false when the client is
// gone or its queue is full.
func (c *client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// Hub tracks one connection per (user, tab session) and implements
// battle.Sink by forwarding events to it.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]map[string]*client),
	}
}

// Register adds a connection for key. A connection it replaces is closed
// after the hub lock is released so a slow close never stalls other keys.
func (h *Hub) Register(key battle.Key, conn Conn) {
	h.mu.Lock()
	if _, exists := h.active[key.UserID]; !exists {
		h.active[key.UserID] = make(map[string]*client)
	}
	existing, replaced := h.active[key.UserID][key.SessionID]
	if replaced && existing.conn == conn {
		h.mu.Unlock()
		return
	}
	h.active[key.UserID][key.SessionID] = newClient(conn)
	h.mu.Unlock()

	if replaced {
		existing.stop()
		_ = existing.conn.Close(websocket.StatusNormalClosure, "session replaced")
	}
	slog.Info("Battle stream registered", "user_id", key.UserID, "session_id", key.SessionID)
}

// Unregister removes conn if it is still the active connection for key.
func (h *Hub) Unregister(key battle.Key, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessions, ok := h.active[key.UserID]
	if !ok {
		return
	}
	if current, exists := sessions[key.SessionID]; exists && current.conn == conn {
		current.stop()
		delete(sessions, key.SessionID)
		if len(sessions) == 0 {
			delete(h.active, key.UserID)
		}
		slog.Info("Battle stream unregistered", "user_id", key.UserID, "session_id", key.SessionID)
	}
}

// Connected reports whether key has an active connection.
func (h *Hub) Connected(key battle.Key) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.active[key.UserID][key.SessionID]
	return ok
}

// Publish implements battle.Sink.
func (h *Hub) Publish(key battle.Key, ev battle.Event) {
	h.Send(key, ev)
}

// Send marshals v and queues it for key. Messages for keys without a
// connection are dropped.
func (h *Hub) Send(key battle.Key, v any) {
	h.mu.RLock()
	c, ok := h.active[key.UserID][key.SessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to encode battle message", "error", err, "user_id", key.UserID)
		return
	}
	if !c.enqueue(data) {
		slog.Warn("Dropping battle message for slow or closed stream",
			"user_id", key.UserID, "session_id", key.SessionID)
	}
}
