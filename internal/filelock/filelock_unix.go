//go:build !windows

// Package filelock adds an advisory, cross-process flock on top of a
// file that's already open, so two separate git-go processes racing
// for the same reference lock file fail the same way two separate
// threads would.
package filelock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// TryLock attempts to take an exclusive, non-blocking advisory lock
// on f. ok is false if another process already holds it.
func TryLock(f *os.File) (ok bool, err error) {
	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		return true, nil
	}
	if err == unix.EWOULDBLOCK { //nolint:errorlint // unix errnos aren't wrapped
		return false, nil
	}
	return false, fmt.Errorf("flock %s: %w", f.Name(), err)
}

// Unlock releases a lock previously taken with TryLock.
func Unlock(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("unlock %s: %w", f.Name(), err)
	}
	return nil
}
