package locking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLocker serializes commits within a single process. Suitable for
// single-instance deployments and for tests; multi-instance deployments
// need AdvisoryLocker.
type MemoryLocker struct {
	timeout time.Duration

	mu    sync.Mutex
	locks map[uuid.UUID]chan struct{}
}

func NewMemoryLocker(timeout time.Duration) *MemoryLocker {
	return &MemoryLocker{
		timeout: timeout,
		locks:   make(map[uuid.UUID]chan struct{}),
	}
}

func (l *MemoryLocker) sem(eventID uuid.UUID) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.locks[eventID]
	if !ok {
		sem = make(chan struct{}, 1)
		l.locks[eventID] = sem
	}
	return sem
}

func (l *MemoryLocker) WithLock(ctx context.Context, eventID uuid.UUID, fn func(ctx context.Context) error) error {
	sem := l.sem(eventID)

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
	case <-timer.C:
		return ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-sem }()

	return fn(ctx)
}
