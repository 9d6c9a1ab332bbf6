//go:build !windows

package engine

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile acquires an exclusive, non-blocking advisory lock on f,
// enforcing spec.md §5.5's single-process-per-file rule. Returns
// ErrLocked if another process already holds it.
func lockFile(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if err == unix.EWOULDBLOCK {
			return ErrLocked
		}
		return err
	}
	return nil
}

// unlockFile releases the lock taken by lockFile.
func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
