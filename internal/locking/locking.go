// Package locking serializes commits that contend for limited quotas,
// vouchers or seats. Commits touching only unlimited inventory skip the
// lock entirely, they cannot oversell anything.
package locking

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrLockTimeout is returned when the per-event lock could not be acquired
// within the locker's timeout. Task wrappers retry the whole planning and
// commit sequence on this error; every other error is final.
var ErrLockTimeout = errors.New("timed out waiting for event lock")

// Locker holds an exclusive per-event lock for the duration of fn.
type Locker interface {
	WithLock(ctx context.Context, eventID uuid.UUID, fn func(ctx context.Context) error) error
}

// NoopLocker runs fn without any serialization.
type NoopLocker struct{}

func (NoopLocker) WithLock(ctx context.Context, eventID uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
