// Package livechat serves follow-up questions over a WebSocket.
package livechat

import (
	"log/slog"
	"sync"

	"github.com/ashureev/stargazer/internal/store"
	"github.com/coder/websocket"
)

// Conn is the part of a WebSocket connection the manager needs.
type Conn interface {
	Close(code websocket.StatusCode, reason string) error
}

// SessionManager tracks the live connection of each tab session. A session
// has at most one connection; a newer one replaces the old.
type SessionManager struct {
	mu     sync.RWMutex
	active map[store.SessionKey]Conn
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[store.SessionKey]Conn),
	}
}

// GetActive returns the active connection for a session.
func (m *SessionManager) GetActive(key store.SessionKey) Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[key]
}

// Count returns the number of live sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Register adds a connection for a session, closing any previous one.
func (m *SessionManager) Register(key store.SessionKey, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.active[key]; ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	m.active[key] = conn
	slog.Info("Live chat registered", "user_id", key.UserID, "session_id", key.SessionID)
}

// Unregister removes conn if it is still the session's connection.
func (m *SessionManager) Unregister(key store.SessionKey, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[key]; ok && current == conn {
		delete(m.active, key)
		slog.Info("Live chat unregistered", "user_id", key.UserID, "session_id", key.SessionID)
	}
}

// CloseSession terminates the live connection of a session, if any.
func (m *SessionManager) CloseSession(key store.SessionKey) {
	m.mu.Lock()
	conn, ok := m.active[key]
	delete(m.active, key)
	m.mu.Unlock()

	if !ok {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "session ended")
	slog.Info("Live chat closed", "user_id", key.UserID, "session_id", key.SessionID)
}

// CloseAll terminates every live connection.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	conns := m.active
	m.active = make(map[store.SessionKey]Conn)
	m.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
