//go:build !windows

package bridgeclient

import (
	"net"
	"path/filepath"
)

// Dial connects to the daemon's Unix domain socket at <configDir>/sock.
func Dial(configDir string) (Conn, error) {
	return net.Dial("unix", filepath.Join(configDir, "sock"))
}

// probe reports whether the socket currently accepts a connection, without
// keeping it open — used by EnsureDaemon's bootstrap poll.
func probe(configDir string) bool {
	conn, err := net.Dial("unix", filepath.Join(configDir, "sock"))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
