package bridgeclient

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// EnsureDaemon makes sure a daemon is reachable at configDir's socket,
// spawning daemonPath detached if it is not, then polling until it answers
// or ctx/the timeout budget expires. This is the "process spawning /
// directory bootstrap" step the wire protocol itself has no opinion about.
func EnsureDaemon(ctx context.Context, configDir, daemonPath string, pollTimeout, pollInterval time.Duration) error {
	if probe(configDir) {
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("bridgeclient: resolve home directory: %w", err)
	}

	logPath := filepath.Join(configDir, "log")
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("bridgeclient: open daemon log: %w", err)
	}
	defer logFile.Close()

	if err := spawnDetached(daemonPath, []string{configDir}, home, logFile); err != nil {
		return fmt.Errorf("bridgeclient: spawn daemon: %w", err)
	}

	deadline := time.Now().Add(pollTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if probe(configDir) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return fmt.Errorf("bridgeclient: daemon did not become reachable within %s", pollTimeout)
}
