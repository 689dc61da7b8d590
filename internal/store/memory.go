package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/stargazer/internal/domain"
)

// MemoryStore is an in-memory Repository. It is not persistent; state is lost
// when the process exits.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]*domain.User
	conversations map[SessionKey]*domain.ConversationState
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*domain.User),
		conversations: make(map[SessionKey]*domain.ConversationState),
	}
}

// GetUser retrieves a user by their user ID.
func (s *MemoryStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// UpsertUser creates or updates a user record. CreatedAt of an existing user is kept.
func (s *MemoryStore) UpsertUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *user
	if existing, ok := s.users[user.UserID]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	s.users[user.UserID] = &cp
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *MemoryStore) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[userID]; ok {
		u.LastSeenAt = lastSeen
		u.UpdatedAt = time.Now()
	}
	return nil
}

// GetConversation retrieves the state of a session.
func (s *MemoryStore) GetConversation(_ context.Context, key SessionKey) (*domain.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.conversations[key]
	if !ok {
		return nil, nil
	}
	return state.Clone(), nil
}

// SaveConversation creates or replaces the state of a session.
func (s *MemoryStore) SaveConversation(_ context.Context, state *domain.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations[KeyOf(state)] = state.Clone()
	return nil
}

// UpdateConversation replaces the state of an existing session.
func (s *MemoryStore) UpdateConversation(_ context.Context, state *domain.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := KeyOf(state)
	if _, ok := s.conversations[key]; !ok {
		return ErrNotFound
	}
	s.conversations[key] = state.Clone()
	return nil
}

// DeleteConversation discards the state of a session.
func (s *MemoryStore) DeleteConversation(_ context.Context, key SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conversations, key)
	return nil
}

// DeleteIdleConversations discards conversations not updated since cutoff.
func (s *MemoryStore) DeleteIdleConversations(_ context.Context, cutoff time.Time) ([]SessionKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []SessionKey
	for key, state := range s.conversations {
		if state.UpdatedAt.Before(cutoff) {
			keys = append(keys, key)
			delete(s.conversations, key)
		}
	}
	sortKeys(keys)
	return keys, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func sortKeys(keys []SessionKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].UserID != keys[j].UserID {
			return keys[i].UserID < keys[j].UserID
		}
		return keys[i].SessionID < keys[j].SessionID
	})
}
