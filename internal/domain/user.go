// Package domain contains the core types of the reading service.
package domain

import (
	"time"
)

// User is an anonymous device identity. Users own any number of tab sessions.
type User struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
