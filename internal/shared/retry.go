package shared

import (
	"context"
	"log/slog"
	"time"
)

// RetryOnSQLiteConflict runs fn up to attempts times, backing off
// exponentially from baseDelay while fn fails with a SQLite conflict error.
// Other errors are returned immediately.
func RetryOnSQLiteConflict(ctx context.Context, op string, attempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !IsSQLiteConflictError(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("sqlite conflict, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
