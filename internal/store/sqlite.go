package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/stargazer/internal/domain"
	"github.com/ashureev/stargazer/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	conflictRetries   = 3
	conflictBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db             *sql.DB
	conversationMu sync.Mutex // serializes conversation writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency. Pragmas in the DSN
	// apply to every pooled connection.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		variant TEXT NOT NULL,
		state_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, user.LastSeenAt.Unix(),
		user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// GetConversation retrieves the state of a session.
func (s *SQLiteStore) GetConversation(ctx context.Context, key SessionKey) (*domain.ConversationState, error) {
	query := `SELECT state_json FROM conversations WHERE user_id = ? AND session_id = ?`

	var stateJSON string
	err := s.db.QueryRowContext(ctx, query, key.UserID, key.SessionID).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}

	var state domain.ConversationState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("decode conversation %s/%s: %w", key.UserID, key.SessionID, err)
	}
	if state.Turns == nil {
		state.Turns = []domain.Turn{}
	}
	return &state, nil
}

// SaveConversation creates or replaces the state of a session.
func (s *SQLiteStore) SaveConversation(ctx context.Context, state *domain.ConversationState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}

	query := `
		INSERT INTO conversations (user_id, session_id, variant, state_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, session_id) DO UPDATE SET
			variant = excluded.variant,
			state_json = excluded.state_json,
			updated_at = excluded.updated_at`

	return shared.RetryOnSQLiteConflict(ctx, "save conversation", conflictRetries, conflictBaseDelay, func() error {
		s.conversationMu.Lock()
		defer s.conversationMu.Unlock()

		_, err := s.db.ExecContext(ctx, query,
			state.UserID, state.SessionID, state.Variant, string(stateJSON),
			state.CreatedAt.UnixMilli(), state.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("upsert conversation: %w", err)
		}
		return nil
	})
}

// UpdateConversation replaces the state of an existing session.
func (s *SQLiteStore) UpdateConversation(ctx context.Context, state *domain.ConversationState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}

	query := `
		UPDATE conversations SET variant = ?, state_json = ?, updated_at = ?
		WHERE user_id = ? AND session_id = ?`

	return shared.RetryOnSQLiteConflict(ctx, "update conversation", conflictRetries, conflictBaseDelay, func() error {
		s.conversationMu.Lock()
		defer s.conversationMu.Unlock()

		res, err := s.db.ExecContext(ctx, query,
			state.Variant, string(stateJSON), state.UpdatedAt.UnixMilli(),
			state.UserID, state.SessionID,
		)
		if err != nil {
			return fmt.Errorf("update conversation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update conversation: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteConversation discards the state of a session.
// Retries with exponential backoff on SQLITE_BUSY.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, key SessionKey) error {
	return shared.RetryOnSQLiteConflict(ctx, "delete conversation", conflictRetries, conflictBaseDelay, func() error {
		s.conversationMu.Lock()
		defer s.conversationMu.Unlock()

		query := `DELETE FROM conversations WHERE user_id = ? AND session_id = ?`
		if _, err := s.db.ExecContext(ctx, query, key.UserID, key.SessionID); err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		return nil
	})
}

// DeleteIdleConversations discards conversations not updated since cutoff.
func (s *SQLiteStore) DeleteIdleConversations(ctx context.Context, cutoff time.Time) ([]SessionKey, error) {
	var keys []SessionKey
	err := shared.RetryOnSQLiteConflict(ctx, "delete idle conversations", conflictRetries, conflictBaseDelay, func() error {
		s.conversationMu.Lock()
		defer s.conversationMu.Unlock()

		keys = keys[:0]
		query := `DELETE FROM conversations WHERE updated_at < ? RETURNING user_id, session_id`
		rows, err := s.db.QueryContext(ctx, query, cutoff.UnixMilli())
		if err != nil {
			return fmt.Errorf("delete idle conversations: %w", err)
		}
		defer func() {
			if closeErr := rows.Close(); closeErr != nil {
				slog.Warn("failed to close idle conversation rows", "error", closeErr)
			}
		}()

		for rows.Next() {
			var key SessionKey
			if err := rows.Scan(&key.UserID, &key.SessionID); err != nil {
				return fmt.Errorf("scan idle conversation row: %w", err)
			}
			keys = append(keys, key)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate idle conversations: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortKeys(keys)
	return keys, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
