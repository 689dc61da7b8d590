// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/stargazer/internal/domain"
)

// ErrNotFound is returned when a conversation to update no longer exists.
var ErrNotFound = errors.New("conversation not found")

// SessionKey identifies one tab session of one user.
type SessionKey struct {
	UserID    string
	SessionID string
}

// Repository defines the interface for persisting users and live conversations.
// Conversations only live as long as their session.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns nil, nil if absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetConversation retrieves the state of a session. Returns nil, nil if absent.
	GetConversation(ctx context.Context, key SessionKey) (*domain.ConversationState, error)

	// SaveConversation creates or replaces the state of a session.
	SaveConversation(ctx context.Context, state *domain.ConversationState) error

	// UpdateConversation replaces the state of an existing session. It returns
	// ErrNotFound if the session was deleted in the meantime.
	UpdateConversation(ctx context.Context, state *domain.ConversationState) error

	// DeleteConversation discards the state of a session. Deleting an absent
	// session is not an error.
	DeleteConversation(ctx context.Context, key SessionKey) error

	// DeleteIdleConversations discards every conversation not updated since
	// cutoff and returns their keys.
	DeleteIdleConversations(ctx context.Context, cutoff time.Time) ([]SessionKey, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// KeyOf returns the key of a conversation state.
func KeyOf(state *domain.ConversationState) SessionKey {
	return SessionKey{UserID: state.UserID, SessionID: state.SessionID}
}
