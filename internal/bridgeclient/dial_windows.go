//go:build windows

package bridgeclient

import (
	"fmt"

	"github.com/Microsoft/go-winio"
)

func pipePath(configDir string) string {
	return fmt.Sprintf(`\\?\pipe\%s\sock`, configDir)
}

// Dial connects to the daemon's named pipe at \\?\pipe\<configDir>\sock.
func Dial(configDir string) (Conn, error) {
	return winio.DialPipe(pipePath(configDir), nil)
}

// probe reports whether the pipe currently accepts a connection, without
// keeping it open — used by EnsureDaemon's bootstrap poll.
func probe(configDir string) bool {
	conn, err := winio.DialPipe(pipePath(configDir), nil)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
