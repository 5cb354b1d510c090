//go:build windows

package filelock

import "os"

// TryLock is a no-op on windows: the exclusive-create of the lock
// file itself is what actually serializes writers there.
func TryLock(f *os.File) (ok bool, err error) {
	return true, nil
}

// Unlock is a no-op on windows, see TryLock.
func Unlock(f *os.File) error {
	return nil
}
