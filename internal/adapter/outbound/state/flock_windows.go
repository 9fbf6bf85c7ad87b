//go:build windows

package state

import (
	"os"

	"golang.org/x/sys/windows"
)

// lockFile blocks until the first byte of f is locked. Without
// LOCKFILE_EXCLUSIVE_LOCK the lock is shared, as with flock(LOCK_SH).
func lockFile(f *os.File, shared bool) error {
	var flags uint32
	if !shared {
		flags = windows.LOCKFILE_EXCLUSIVE_LOCK
	}
	ol := new(windows.Overlapped)
	return windows.LockFileEx(windows.Handle(f.Fd()), flags, 0, 1, 0, ol)
}

func unlockFile(f *os.File) error {
	ol := new(windows.Overlapped)
	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, ol)
}
