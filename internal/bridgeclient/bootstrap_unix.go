//go:build !windows

package bridgeclient

import (
	"os"
	"os/exec"
	"syscall"
)

// spawnDetached launches path as a new session leader so it survives the
// caller's process exiting, with stdin discarded and stdout/stderr routed
// to logFile.
func spawnDetached(path string, args []string, dir string, logFile *os.File) error {
	cmd := exec.Command(path, args...)
	cmd.Dir = dir
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return cmd.Start()
}
