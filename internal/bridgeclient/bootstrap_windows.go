//go:build windows

package bridgeclient

import (
	"os"
	"os/exec"
	"syscall"
)

// detachedProcess/createNewProcessGroup let the daemon survive the spawning
// process exiting and keep it out of the caller's console session.
const (
	detachedProcess       = 0x00000008
	createNewProcessGroup = 0x00000200
)

// spawnDetached launches path as a detached background process, with stdin
// discarded and stdout/stderr routed to logFile.
func spawnDetached(path string, args []string, dir string, logFile *os.File) error {
	cmd := exec.Command(path, args...)
	cmd.Dir = dir
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: detachedProcess | createNewProcessGroup}
	return cmd.Start()
}
