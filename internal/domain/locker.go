// internal/domain/locker.go
package domain

import (
	"context"
	"errors"
)

// ErrLockNotAcquired is returned when a lock is already held elsewhere.
var ErrLockNotAcquired = errors.New("lock not acquired")

// Lock is an acquired lock.
type Lock interface {
	Unlock(ctx context.Context) error
}

// Locker hands out named locks. Lock must not block: a lock held by someone
// else yields ErrLockNotAcquired. The server takes one to own a persistence
// store so two engines never restore and fire the same triggers.
type Locker interface {
	Lock(ctx context.Context, name string) (Lock, error)
}
