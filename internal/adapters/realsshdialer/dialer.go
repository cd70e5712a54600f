// Package realsshdialer provides a real implementation of the SSHDialer port.
package realsshdialer

import (
	"fmt"
	"net"

	"golang.org/x/crypto/ssh"
)

// Dialer implements ports.SSHDialer using the real net.Dial and
// ssh.NewClientConn, so it can disable Nagle's algorithm on the raw
// connection before the SSH handshake begins.
type Dialer struct{}

// New creates a new Dialer.
func New() *Dialer {
	return &Dialer{}
}

// Dial establishes a TCP connection to addr, disables Nagle's algorithm on
// it, then performs the SSH handshake over it.
func (d *Dialer) Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	conn, err := net.DialTimeout(network, addr, config.Timeout)
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set TCP_NODELAY: %w", err)
		}
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		return nil, err
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}
