//go:build windows

package daemon

import (
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
)

// Listen binds the daemon's transport endpoint to a named pipe at
// \\?\pipe\<configDir>\sock.
func Listen(configDir string) (net.Listener, error) {
	l, err := winio.ListenPipe(SocketPath(configDir), nil)
	if err != nil {
		return nil, fmt.Errorf("daemon: listen on pipe: %w", err)
	}
	return l, nil
}

// SocketPath returns the named pipe path a caller should dial to reach the
// daemon.
func SocketPath(configDir string) string {
	return `\\?\pipe\` + configDir + `\sock`
}
