package locking

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryLocker implements cross-process serialization with PostgreSQL
// session advisory locks. The lock key is derived from the event ID, so
// different events never contend with each other.
type AdvisoryLocker struct {
	pool    *pgxpool.Pool
	timeout time.Duration

	// pollInterval is how often acquisition is retried while waiting.
	pollInterval time.Duration
}

func NewAdvisoryLocker(pool *pgxpool.Pool, timeout time.Duration) *AdvisoryLocker {
	return &AdvisoryLocker{
		pool:         pool,
		timeout:      timeout,
		pollInterval: 50 * time.Millisecond,
	}
}

// lockKey maps an event ID onto the 64-bit advisory lock space.
func lockKey(eventID uuid.UUID) int64 {
	h := fnv.New64a()
	h.Write(eventID[:])
	return int64(h.Sum64())
}

func (l *AdvisoryLocker) WithLock(ctx context.Context, eventID uuid.UUID, fn func(ctx context.Context) error) error {
	// Session locks are tied to a connection, so the same connection must
	// be held until unlock.
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	key := lockKey(eventID)
	deadline := time.Now().Add(l.timeout)
	for {
		var got bool
		if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&got); err != nil {
			return err
		}
		if got {
			break
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-time.After(l.pollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer func() {
		// Unlock even when ctx is already canceled; the release must not
		// wait for the next request to recycle the connection.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, key)
	}()

	return fn(ctx)
}
