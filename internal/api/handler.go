// Package api provides HTTP handlers for the stargazer API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ashureev/stargazer/internal/conversation"
	"github.com/ashureev/stargazer/internal/store"
)

// SessionCloser closes live connections bound to a session.
type SessionCloser interface {
	CloseSession(key store.SessionKey)
}

// Handler provides common handler utilities.
type Handler struct {
	svc         *conversation.Service
	limiter     *RateLimiter
	sessions    SessionCloser
	maxBodySize int64
}

// NewHandler creates a new Handler with common dependencies. sessions may be nil.
func NewHandler(svc *conversation.Service, limiter *RateLimiter, sessions SessionCloser, maxBodySize int64) *Handler {
	return &Handler{
		svc:         svc,
		limiter:     limiter,
		sessions:    sessions,
		maxBodySize: maxBodySize,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response carrying a client code and a message.
func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, map[string]string{"error": code, "message": message})
}

// decode reads a JSON body of at most the configured size into v.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if h.maxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (h *Handler) closeLiveSession(key store.SessionKey) {
	if h.sessions == nil {
		return
	}
	h.sessions.CloseSession(key)
	slog.Debug("closed live session", "user_id", key.UserID, "session_id", key.SessionID)
}
