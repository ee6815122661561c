package vfs

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/flock"
)

// ErrBusy is returned when a lock could not be taken before the timeout.
var ErrBusy = errors.New("vfs: lock busy")

const retryDelay = 5 * time.Millisecond

// LockMode is the level currently held on a Lock.
type LockMode uint8

const (
	Unlocked LockMode = iota
	Shared
	Exclusive
)

// Lock is a whole-file advisory lock with a busy timeout. A nil *Lock always
// succeeds; in-memory databases use one.
//
// Modes are never converted in place. Switching from shared to exclusive
// releases first, so callers must recheck whatever the shared lock was
// protecting.
type Lock struct {
	fl      *flock.Flock
	timeout time.Duration
	mode    LockMode
}

// NewLock returns an unlocked lock on path. The lock file is created on
// first use.
func NewLock(path string, timeout time.Duration) *Lock {
	return &Lock{fl: flock.New(path), timeout: timeout}
}

// Mode reports the level currently held.
func (l *Lock) Mode() LockMode {
	if l == nil {
		return Unlocked
	}
	return l.mode
}

// Shared waits up to the busy timeout for a shared lock.
func (l *Lock) Shared() error {
	return l.acquire(Shared, l.wait())
}

// Exclusive waits up to the busy timeout for an exclusive lock.
func (l *Lock) Exclusive() error {
	return l.acquire(Exclusive, l.wait())
}

// SharedWithin is Shared with an explicit timeout.
func (l *Lock) SharedWithin(timeout time.Duration) error {
	return l.acquire(Shared, timeout)
}

// TryShared takes a shared lock only if no exclusive holder exists right now.
func (l *Lock) TryShared() (bool, error) {
	err := l.acquire(Shared, 0)
	if errors.Is(err, ErrBusy) {
		return false, nil
	}
	return err == nil, err
}

// TryExclusive takes an exclusive lock only if it is free right now.
func (l *Lock) TryExclusive() (bool, error) {
	err := l.acquire(Exclusive, 0)
	if errors.Is(err, ErrBusy) {
		return false, nil
	}
	return err == nil, err
}

// Release drops whatever is held.
func (l *Lock) Release() error {
	if l == nil || l.mode == Unlocked {
		return nil
	}
	l.mode = Unlocked
	return l.fl.Unlock()
}

func (l *Lock) wait() time.Duration {
	if l == nil {
		return 0
	}
	return l.timeout
}

func (l *Lock) acquire(mode LockMode, timeout time.Duration) error {
	if l == nil || l.mode == mode {
		return nil
	}
	if err := l.Release(); err != nil {
		return err
	}

	var (
		ok  bool
		err error
	)
	if timeout <= 0 {
		if mode == Exclusive {
			ok, err = l.fl.TryLock()
		} else {
			ok, err = l.fl.TryRLock()
		}
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if mode == Exclusive {
			ok, err = l.fl.TryLockContext(ctx, retryDelay)
		} else {
			ok, err = l.fl.TryRLockContext(ctx, retryDelay)
		}
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if !ok {
		return ErrBusy
	}
	l.mode = mode
	return nil
}
