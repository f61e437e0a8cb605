// Package busserver implements the native message-bus protocol server:
// socket bind-and-lock, per-connection credential association, dispatch to
// resource handlers, busy back-pressure, and client teardown. See spec.md
// §4.6, §6.
package busserver

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// acquireLock opens (creating if needed) the sidecar lock file at path and
// takes a non-blocking exclusive flock on it, asserting sole ownership of
// the socket name (spec.md §4.6 Lock and bind, §6 Lock file). The caller
// owns the returned fd and must close it (which releases the lock) on
// teardown.
func acquireLock(path string) (int, error) {
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_CLOEXEC|unix.O_RDWR, 0660)
	if err != nil {
		return -1, fmt.Errorf("busserver: open lock file %s: %w", path, err)
	}
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("busserver: lock %s held by another instance: %w", path, err)
	}
	return fd, nil
}

// releaseLock closes the lock fd (releasing the flock) and unlinks the
// lock file, undoing acquireLock. Spec.md Invariant 5: "the lock file ...
// exists for exactly as long as the server is the authoritative owner."
func releaseLock(fd int, path string) {
	unix.Close(fd)
	os.Remove(path)
}
