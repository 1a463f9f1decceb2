// Package lockfile provides advisory file locking, in shared and exclusive
// modes, for the single LockedFd that serializes operations on a cache root.
// The cache takes it exclusive for every operation, match included.
package lockfile

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Locker provides advisory file locking facilities backed by flock(2), via
// golang.org/x/sys/unix. Unlike fcntl-based locking, flock locks are
// associated with the open file description, so they compose cleanly with a
// single long-lived *os.File per cache root.
type Locker struct {
	// file is the underlying file object to be locked.
	file *os.File
	// mode records which lock, if any, this Locker currently holds, so Held
	// can report whether one is held; mu guards it. Unlock releases either
	// mode.
	mu   sync.Mutex
	mode lockMode
}

type lockMode int

const (
	lockModeNone lockMode = iota
	lockModeShared
	lockModeExclusive
)

// NewLocker attempts to create a lock with the file at the specified path,
// creating the file if necessary. The lock is returned in an unlocked state.
func NewLocker(path string, permissions os.FileMode) (*Locker, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, permissions)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open lock file")
	}
	return &Locker{file: file}, nil
}

// Lock acquires an exclusive lock, blocking until it is available if block is
// true, otherwise returning immediately with an error if it is not.
func (l *Locker) Lock(block bool) error {
	return l.flock(unix.LOCK_EX, lockModeExclusive, block)
}

// RLock acquires a shared lock, blocking until it is available if block is
// true, otherwise returning immediately with an error if it is not.
func (l *Locker) RLock(block bool) error {
	return l.flock(unix.LOCK_SH, lockModeShared, block)
}

func (l *Locker) flock(how int, mode lockMode, block bool) error {
	operation := how
	if !block {
		operation |= unix.LOCK_NB
	}
	if err := unix.Flock(int(l.file.Fd()), operation); err != nil {
		return errors.Wrap(err, "unable to acquire lock")
	}
	l.mu.Lock()
	l.mode = mode
	l.mu.Unlock()
	return nil
}

// Unlock releases whichever lock (shared or exclusive) is currently held.
func (l *Locker) Unlock() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		return errors.Wrap(err, "unable to release lock")
	}
	l.mu.Lock()
	l.mode = lockModeNone
	l.mu.Unlock()
	return nil
}

// Held reports whether this Locker currently believes it holds a lock (of
// either mode). It reflects only locks taken through this Locker instance,
// not the kernel's global lock table.
func (l *Locker) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode != lockModeNone
}

// Close closes the underlying lock file, releasing any held lock.
func (l *Locker) Close() error {
	return l.file.Close()
}
