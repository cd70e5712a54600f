//go:build windows

package daemon

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// InstanceLock is the daemon's single-instance guard. On Windows this is a
// CreateFile handle opened with no sharing flags: the OS refuses a second
// exclusive open of the same path for as long as this handle is held,
// which is the mandatory-locking equivalent of POSIX flock for this use.
type InstanceLock struct {
	handle windows.Handle
	file   *os.File
}

// ErrAlreadyRunning is returned by AcquireLock when another daemon process
// already holds the lock.
var ErrAlreadyRunning = fmt.Errorf("daemon: another instance is already running")

// AcquireLock opens <configDir>/lock exclusively, truncates it, and writes
// the current PID followed by a newline.
func AcquireLock(path string) (*InstanceLock, error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, fmt.Errorf("daemon: lock path: %w", err)
	}

	handle, err := windows.CreateFile(
		pathPtr,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0, // no sharing: exclusive
		nil,
		windows.OPEN_ALWAYS,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
	if err != nil {
		if err == windows.ERROR_SHARING_VIOLATION {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("daemon: open lock file: %w", err)
	}

	f := os.NewFile(uintptr(handle), path)
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("daemon: truncate lock file: %w", err)
	}
	if _, err := f.WriteString(fmt.Sprintf("%d\n", os.Getpid())); err != nil {
		f.Close()
		return nil, fmt.Errorf("daemon: write pid: %w", err)
	}

	return &InstanceLock{handle: handle, file: f}, nil
}

// Release truncates the lock file and closes the handle.
func (l *InstanceLock) Release() error {
	l.file.Truncate(0)
	return l.file.Close()
}
