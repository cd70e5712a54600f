// Package bridgeclient implements the caller side of the ssh-bridge wire
// protocol: a small state machine that dials the daemon's socket, drives
// CONNECT/REUSE/EXEC/SHARE/RESIZE, and surfaces the daemon's frames as Go
// return values, channels, and a terminal error taxonomy.
package bridgeclient

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/acolita/ssh-bridge/internal/fsm"
	"github.com/acolita/ssh-bridge/internal/protocol"
	"github.com/acolita/ssh-bridge/internal/wire"
)

// ChallengeHandler answers a keyboard-interactive challenge relayed from
// the remote SSH server. Returning an error (or the handler panicking, for
// a caller that chooses to recover and convert) is a fatal CHALLENGE_ERROR.
type ChallengeHandler func(c protocol.Challenge) ([]string, error)

// Conn is the minimal transport Client needs: a byte stream that can be
// read, written and closed. A net.Conn (unix socket or named pipe)
// satisfies it; dial_unix.go/dial_windows.go return one.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Client drives one daemon connection through the caller-side state
// machine of spec §4.6. It is not safe for concurrent use by multiple
// goroutines issuing operations simultaneously — like the protocol it
// implements, one operation is in flight at a time — but its stream
// handles may be read concurrently with a Resize/Close call.
type Client struct {
	conn Conn
	dec  *wire.Decoder

	mu        sync.Mutex
	state     fsm.State
	errs      errBox
	exec      *execStreams
	ctrl      chan ctrlEvent
	closed    chan struct{}
	closeOnce sync.Once
}

// New wraps an already-dialed connection in a Client and starts its
// background reader.
func New(conn Conn) *Client {
	c := &Client{
		conn:   conn,
		dec:    wire.NewDecoder(conn),
		state:  fsm.Initial,
		ctrl:   make(chan ctrlEvent, 4),
		closed: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	for {
		f, err := c.dec.Next()
		if err != nil {
			c.onTerminal(&TerminalError{Kind: NoDaemon, Reason: "daemon connection closed", Cause: err})
			return
		}
		if !c.dispatch(f) {
			return
		}
	}
}

// dispatch handles one inbound frame. It returns false if the read loop
// should stop (a terminal condition already raised).
func (c *Client) dispatch(f wire.Frame) bool {
	switch f.Type {
	case wire.TypeConnected:
		var p protocol.Connected
		json.Unmarshal(f.Payload, &p)
		c.ctrl <- ctrlEvent{connected: &p}
	case wire.TypeUnconnected:
		var p protocol.Unconnected
		json.Unmarshal(f.Payload, &p)
		c.ctrl <- ctrlEvent{unconnected: &p}
	case wire.TypeChallenge:
		var p protocol.Challenge
		json.Unmarshal(f.Payload, &p)
		c.ctrl <- ctrlEvent{challenge: &p}
	case wire.TypeShared:
		var p protocol.Shared
		json.Unmarshal(f.Payload, &p)
		c.ctrl <- ctrlEvent{shared: &p}
	case wire.TypeException:
		var p protocol.Exception
		json.Unmarshal(f.Payload, &p)
		c.mu.Lock()
		st := c.state
		c.mu.Unlock()
		if st == fsm.Connecting {
			c.ctrl <- ctrlEvent{exception: &p}
			return true
		}
		c.onTerminal(&TerminalError{Kind: DaemonError, Reason: p.Reason})
		return false
	case wire.TypeDisconnected:
		var p protocol.Disconnected
		json.Unmarshal(f.Payload, &p)
		c.onTerminal(&TerminalError{Kind: NoSSH, Reason: p.Reason})
		return false
	case wire.TypeStdout:
		c.deliverStream(func(s *execStreams) { s.stdout <- f.Payload })
	case wire.TypeStderr:
		c.deliverStream(func(s *execStreams) { s.stderr <- f.Payload })
	case wire.TypeResult:
		var res protocol.Result
		json.Unmarshal(f.Payload, &res)
		c.mu.Lock()
		c.state = fsm.Ready
		exec := c.exec
		c.mu.Unlock()
		if exec != nil {
			r := ExecResult{Code: res.Code, Signal: res.Signal}
			if res.Error != nil {
				r.Err = &TerminalError{Kind: SSHError, Reason: *res.Error}
			}
			exec.result <- r
			close(exec.stdout)
			close(exec.stderr)
		}
	default:
		c.onTerminal(&TerminalError{Kind: ProtocolError, Reason: fmt.Sprintf("unexpected frame type %d", f.Type)})
		return false
	}
	return true
}

func (c *Client) deliverStream(send func(*execStreams)) {
	c.mu.Lock()
	exec := c.exec
	c.mu.Unlock()
	if exec != nil {
		send(exec)
	}
}

// onTerminal stashes a terminal error and closes the underlying connection.
// Safe to call more than once; only the first error is kept.
func (c *Client) onTerminal(err *TerminalError) {
	c.mu.Lock()
	c.state = fsm.Errored
	c.errs.set(err)
	c.mu.Unlock()
	c.closeOnce.Do(func() {
		c.conn.Close()
		close(c.closed)
	})
}

// stashedOrNil returns the stashed terminal error for this call, if any,
// per the consume-once policy, while holding c.mu.
func (c *Client) stashedOrNil() error {
	return c.errs.take()
}

func (c *Client) writeFrame(t wire.Type, v any) error {
	var payload []byte
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		payload = data
	}
	return wire.Encode(c.conn, wire.Frame{Type: t, Payload: payload})
}

// Closed reports whether the client has entered Errored.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == fsm.Errored
}

// Close transitions to Errored, cancelling any pending operation with a
// CLOSED error, and closes the underlying connection. Never returns an
// error; safe to call more than once.
func (c *Client) Close() {
	c.onTerminal(&TerminalError{Kind: Closed, Reason: "closed by caller"})
}
