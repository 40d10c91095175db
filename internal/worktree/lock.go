package worktree

import (
    "os"
    "syscall"

    "tig/internal/errors"
)

// Lock wraps the advisory file lock the spec requires: shared for read
// operations, exclusive for mutations, acquired non-blocking (failure
// returns Busy) and downgradable to shared at the end of a successful
// exclusive operation. Stdlib-only (syscall.Flock): no flock wrapper
// library appears anywhere in the retrieved example pack.
type Lock struct {
    f         *os.File
    exclusive bool
    held      bool
}

func openLock(path string) (*Lock, error) {
    f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
    if err != nil {
        return nil, errors.Wrap(errors.IO, err, "opening lock file")
    }
    return &Lock{f: f}, nil
}

// Acquire takes the lock non-blocking. A failed acquisition (EWOULDBLOCK)
// maps to Busy.
func (l *Lock) Acquire(exclusive bool) error {
    how := syscall.LOCK_SH
    if exclusive {
        how = syscall.LOCK_EX
    }
    if err := syscall.Flock(int(l.f.Fd()), how|syscall.LOCK_NB); err != nil {
        return errors.Wrap(errors.Busy, err, "acquiring work tree lock")
    }
    l.exclusive = exclusive
    l.held = true
    return nil
}

// Downgrade converts a held exclusive lock to shared, the state every
// successful mutating operation must end in.
func (l *Lock) Downgrade() error {
    if !l.held || !l.exclusive {
        return nil
    }
    if err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB); err != nil {
        return errors.Wrap(errors.IO, err, "downgrading work tree lock")
    }
    l.exclusive = false
    return nil
}

// Exclusive reports whether the lock is currently held exclusively.
func (l *Lock) Exclusive() bool { return l.held && l.exclusive }

// Held reports whether the lock is currently held at all.
func (l *Lock) Held() bool { return l.held }

// Release drops the lock and closes the underlying descriptor.
func (l *Lock) Release() error {
    if !l.held {
        return nil
    }
    err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
    l.held = false
    closeErr := l.f.Close()
    if err != nil {
        return errors.Wrap(errors.IO, err, "releasing work tree lock")
    }
    if closeErr != nil {
        return errors.Wrap(errors.IO, closeErr, "closing lock file")
    }
    return nil
}
