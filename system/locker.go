package system

import (
	"context"
	"sync"

	"emperror.dev/errors"
)

var ErrLockerLocked = errors.Sentinel("locker: cannot acquire lock, already locked")

// Locker is a single slot lock that can be attempted without blocking, or
// waited on until a context expires. The control loop uses it to ensure two
// ticks never run at the same time.
type Locker struct {
	mu sync.RWMutex
	ch chan bool
}

// NewLocker returns a new Locker instance.
func NewLocker() *Locker {
	return &Locker{
		ch: make(chan bool, 1),
	}
}

// IsLocked returns true if the slot is currently held.
func (l *Locker) IsLocked() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ch) == 1
}

// Acquire takes the lock if it is free, otherwise ErrLockerLocked is returned
// immediately.
func (l *Locker) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case l.ch <- true:
	default:
		return ErrLockerLocked
	}
	return nil
}

// TryAcquire waits for the lock until the context is done. If the context
// expires first ErrLockerLocked is returned.
func (l *Locker) TryAcquire(ctx context.Context) error {
	select {
	case l.ch <- true:
		return nil
	case <-ctx.Done():
		return errors.WithStack(ErrLockerLocked)
	}
}

// Release frees the lock. Releasing a lock that is not held is a no-op.
func (l *Locker) Release() {
	l.mu.Lock()
	select {
	case <-l.ch:
	default:
	}
	l.mu.Unlock()
}
