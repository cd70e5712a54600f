//go:build !windows

package daemon

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// InstanceLock is the daemon's single-instance guard: an exclusive,
// non-blocking advisory flock on <configDir>/lock. Acquire fails silently
// (ErrAlreadyRunning) if another daemon already holds it.
type InstanceLock struct {
	file *os.File
}

// ErrAlreadyRunning is returned by AcquireLock when another daemon process
// already holds the lock.
var ErrAlreadyRunning = fmt.Errorf("daemon: another instance is already running")

// AcquireLock opens <configDir>/lock, takes an exclusive non-blocking
// flock, truncates the file, and writes the current PID followed by a
// newline.
func AcquireLock(path string) (*InstanceLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("daemon: open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("daemon: flock: %w", err)
	}

	if err := f.Truncate(0); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("daemon: truncate lock file: %w", err)
	}
	if _, err := f.WriteString(fmt.Sprintf("%d\n", os.Getpid())); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("daemon: write pid: %w", err)
	}

	return &InstanceLock{file: f}, nil
}

// Release truncates the lock file, releases the flock, and closes the
// descriptor.
func (l *InstanceLock) Release() error {
	l.file.Truncate(0)
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	return l.file.Close()
}
