// Package sweeper discards conversations whose session has gone idle.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/stargazer/internal/store"
)

// ExpireCallback is called with the sessions removed by a sweep.
type ExpireCallback func(keys []store.SessionKey)

// Worker periodically deletes conversations idle for longer than the TTL.
type Worker struct {
	repo     store.Repository
	ttl      time.Duration
	interval time.Duration
	onExpire []ExpireCallback
	now      func() time.Time
}

// New creates a sweeper. Callbacks run after each sweep that removed sessions.
func New(repo store.Repository, ttl, interval time.Duration, onExpire ...ExpireCallback) *Worker {
	return &Worker{
		repo:     repo,
		ttl:      ttl,
		interval: interval,
		onExpire: onExpire,
		now:      time.Now,
	}
}

// Run sweeps every interval until ctx is done. It always returns nil so it
// can share an errgroup with servers without ending them.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	slog.Info("Session sweeper started", "interval", w.interval, "ttl", w.ttl)

	for {
		select {
		case <-ticker.C:
			w.Sweep(ctx)
		case <-ctx.Done():
			slog.Info("Session sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// Sweep removes idle conversations once and returns how many were removed.
func (w *Worker) Sweep(ctx context.Context) int {
	cutoff := w.now().Add(-w.ttl)
	keys, err := w.repo.DeleteIdleConversations(ctx, cutoff)
	if err != nil {
		slog.Error("Session sweeper failed to delete idle conversations", "error", err)
		return 0
	}
	if len(keys) == 0 {
		return 0
	}

	for _, key := range keys {
		slog.Info("Session expired", "user_id", key.UserID, "session_id", key.SessionID)
	}
	for _, cb := range w.onExpire {
		cb(keys)
	}

	slog.Info("Session sweep completed", "expired", len(keys))
	return len(keys)
}
