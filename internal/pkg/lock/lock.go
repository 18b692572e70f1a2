// Package lock provides identity-level locking for concurrent ledger updates.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"kir-bot/internal/model"
)

// ErrLockTimeout is returned when an identity lock is not acquired in time.
var ErrLockTimeout = errors.New("identity lock timeout")

// DefaultTimeout bounds how long Acquire waits for a busy identity.
const DefaultTimeout = 5 * time.Second

// IdentityLock serializes read-check-write sequences on a player record.
// Mutexes are created lazily and never removed; the key space is bounded by
// the number of players.
type IdentityLock struct {
	locks   sync.Map // map[model.Identity]*sync.Mutex
	timeout time.Duration
}

// New creates an IdentityLock whose Acquire waits up to DefaultTimeout.
func New() *IdentityLock {
	return NewWithTimeout(DefaultTimeout)
}

// NewWithTimeout creates an IdentityLock whose Acquire waits up to timeout.
// A non-positive timeout waits until the context is done.
func NewWithTimeout(timeout time.Duration) *IdentityLock {
	return &IdentityLock{timeout: timeout}
}

func (l *IdentityLock) get(id model.Identity) *sync.Mutex {
	if v, ok := l.locks.Load(id); ok {
		return v.(*sync.Mutex)
	}
	actual, _ := l.locks.LoadOrStore(id, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// Lock acquires the lock for an identity, waiting as long as it takes.
func (l *IdentityLock) Lock(id model.Identity) {
	l.get(id).Lock()
}

// Unlock releases the lock for an identity.
func (l *IdentityLock) Unlock(id model.Identity) {
	if v, ok := l.locks.Load(id); ok {
		v.(*sync.Mutex).Unlock()
	}
}

// TryLock attempts to acquire the lock without blocking.
func (l *IdentityLock) TryLock(id model.Identity) bool {
	return l.get(id).TryLock()
}

// LockWithTimeout polls for the lock until it is acquired, the timeout
// elapses or ctx is done. A non-positive timeout is bounded by ctx alone.
func (l *IdentityLock) LockWithTimeout(ctx context.Context, id model.Identity, timeout time.Duration) error {
	if l.TryLock(id) {
		return nil
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrLockTimeout
		case <-ticker.C:
			if l.TryLock(id) {
				return nil
			}
		}
	}
}

// Acquire takes the identity's lock within the configured timeout.
func (l *IdentityLock) Acquire(ctx context.Context, id model.Identity) error {
	return l.LockWithTimeout(ctx, id, l.timeout)
}

// WithLock executes fn while holding the identity's lock. fn does not run if
// the lock is not acquired.
func (l *IdentityLock) WithLock(ctx context.Context, id model.Identity, fn func() error) error {
	if err := l.Acquire(ctx, id); err != nil {
		return err
	}
	defer l.Unlock(id)
	return fn()
}

// LockPair acquires both locks in a fixed order so that two goroutines
// locking the same pair in opposite roles cannot deadlock. The returned
// function releases both. On error neither lock is held.
func (l *IdentityLock) LockPair(ctx context.Context, a, b model.Identity) (unlock func(), err error) {
	if a == b {
		if err := l.Acquire(ctx, a); err != nil {
			return nil, err
		}
		return func() { l.Unlock(a) }, nil
	}

	first, second := a, b
	if less(b, a) {
		first, second = b, a
	}

	if err := l.Acquire(ctx, first); err != nil {
		return nil, err
	}
	if err := l.Acquire(ctx, second); err != nil {
		l.Unlock(first)
		return nil, err
	}
	return func() {
		l.Unlock(second)
		l.Unlock(first)
	}, nil
}

func less(a, b model.Identity) bool {
	if a.GroupID != b.GroupID {
		return a.GroupID < b.GroupID
	}
	return a.UserID < b.UserID
}
