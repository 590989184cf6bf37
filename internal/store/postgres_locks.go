package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryLocker serializes work on a key across every service instance sharing the database.
// Each held key pins one pooled connection carrying a session-level advisory lock.
type AdvisoryLocker struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// Locks returns an advisory locker backed by this pool.
func (r *PostgresRepository) Locks(logger *slog.Logger) *AdvisoryLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdvisoryLocker{db: r.db, logger: logger}
}

// Lock blocks until key is held or ctx is done. The returned func releases the lock.
func (l *AdvisoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	conn, err := l.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock connection: %w", err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, key); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to take advisory lock %q: %w", key, err)
	}
	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key); err != nil {
			// Closing the session drops every advisory lock it holds.
			l.logger.Warn("advisory unlock failed; closing connection", "key", key, "error", err)
			_ = conn.Conn().Close(unlockCtx)
		}
		conn.Release()
	}, nil
}
