package bridgeclient

import (
	"github.com/acolita/ssh-bridge/internal/fsm"
	"github.com/acolita/ssh-bridge/internal/protocol"
	"github.com/acolita/ssh-bridge/internal/wire"
)

// ConnectResult is the outcome of Connect or Reuse: exactly one of
// (Fingerprint set) or (Reason set) is populated on return.
type ConnectResult struct {
	Success     bool
	Fingerprint string
	Banner      string
	Reason      string
}

// Connect is valid only in Initial. It sends CONNECT, answers any CHALLENGE
// frames via handler (which may be nil if the caller never expects one —
// an arriving CHALLENGE with a nil handler is a fatal CHALLENGE_ERROR), and
// returns once CONNECTED or UNCONNECTED resolves the attempt.
func (c *Client) Connect(params protocol.ConnectParams, handler ChallengeHandler) (ConnectResult, error) {
	c.mu.Lock()
	if err := c.stashedOrNil(); err != nil {
		c.mu.Unlock()
		return ConnectResult{}, err
	}
	if c.state != fsm.Initial {
		c.mu.Unlock()
		return ConnectResult{}, &TerminalError{Kind: ProtocolError, Reason: "connect called outside Initial"}
	}
	c.state = fsm.Connecting
	c.mu.Unlock()

	if err := c.writeFrame(wire.TypeConnect, connectPayload(params)); err != nil {
		c.onTerminal(&TerminalError{Kind: NoDaemon, Reason: "write CONNECT", Cause: err})
		return ConnectResult{}, c.errs.take()
	}

	return c.awaitConnectOutcome(handler)
}

// Reuse is valid only in Initial. It sends REUSE and returns once CONNECTED
// or UNCONNECTED resolves the attempt. Unlike Connect, no CHALLENGE can
// arrive — reuse never re-runs the handshake.
func (c *Client) Reuse(params protocol.ReuseParams) (ConnectResult, error) {
	c.mu.Lock()
	if err := c.stashedOrNil(); err != nil {
		c.mu.Unlock()
		return ConnectResult{}, err
	}
	if c.state != fsm.Initial {
		c.mu.Unlock()
		return ConnectResult{}, &TerminalError{Kind: ProtocolError, Reason: "reuse called outside Initial"}
	}
	c.state = fsm.Connecting
	c.mu.Unlock()

	if err := c.writeFrame(wire.TypeReuse, params); err != nil {
		c.onTerminal(&TerminalError{Kind: NoDaemon, Reason: "write REUSE", Cause: err})
		return ConnectResult{}, c.errs.take()
	}

	return c.awaitConnectOutcome(nil)
}

func (c *Client) awaitConnectOutcome(handler ChallengeHandler) (ConnectResult, error) {
	for {
		select {
		case ev := <-c.ctrl:
			switch {
			case ev.connected != nil:
				c.mu.Lock()
				c.state = fsm.Ready
				c.mu.Unlock()
				banner := ""
				if ev.connected.Banner != nil {
					banner = *ev.connected.Banner
				}
				return ConnectResult{Success: true, Fingerprint: ev.connected.Fingerprint, Banner: banner}, nil

			case ev.unconnected != nil:
				c.mu.Lock()
				c.state = fsm.Initial
				c.mu.Unlock()
				return ConnectResult{Success: false, Reason: ev.unconnected.Reason}, nil

			case ev.exception != nil:
				c.onTerminal(&TerminalError{Kind: DaemonError, Reason: ev.exception.Reason})
				return ConnectResult{}, c.errs.take()

			case ev.challenge != nil:
				if handler == nil {
					c.onTerminal(&TerminalError{Kind: ChallengeError, Reason: "no challenge handler registered"})
					return ConnectResult{}, c.errs.take()
				}
				responses, err := handler(*ev.challenge)
				if err != nil {
					c.onTerminal(&TerminalError{Kind: ChallengeError, Reason: err.Error(), Cause: err})
					return ConnectResult{}, c.errs.take()
				}
				if err := c.writeFrame(wire.TypeChallengeResponse, protocol.ChallengeResponse{Responses: responses}); err != nil {
					c.onTerminal(&TerminalError{Kind: NoDaemon, Reason: "write CHALLENGE_RESPONSE", Cause: err})
					return ConnectResult{}, c.errs.take()
				}
				// loop: the handshake continues, more events follow
			}

		case <-c.closed:
			return ConnectResult{}, c.errs.take()
		}
	}
}

func connectPayload(p protocol.ConnectParams) any {
	return struct {
		Username    string `json:"username"`
		Hostname    string `json:"hostname"`
		Port        int    `json:"port"`
		ShareKey    string `json:"shareKey,omitempty"`
		Fingerprint string `json:"fingerprint,omitempty"`
		Reusable    bool   `json:"reusable"`
		PrivateKey  string `json:"privateKey,omitempty"`
		Passphrase  string `json:"passphrase,omitempty"`
		Password    string `json:"password,omitempty"`
		TryKeyboard bool   `json:"tryKeyboard,omitempty"`
	}{
		Username:    p.Username,
		Hostname:    p.Hostname,
		Port:        p.Port,
		ShareKey:    p.ShareKey,
		Fingerprint: p.Fingerprint,
		Reusable:    p.Reusable,
		PrivateKey:  string(p.PrivateKey),
		Passphrase:  p.Passphrase,
		Password:    p.Password,
		TryKeyboard: p.TryKeyboard,
	}
}

// ExecHandles are the stream-like handles Exec returns: a stdin writer and
// read-only stdout/stderr/result channels. Stdout and stderr close once the
// command's RESULT frame arrives; Result fires exactly once.
type ExecHandles struct {
	client *Client
	Stdout <-chan []byte
	Stderr <-chan []byte
	Result <-chan ExecResult
}

// WriteStdin sends a STDIN frame carrying p.
func (h *ExecHandles) WriteStdin(p []byte) error {
	return wire.Encode(h.client.conn, wire.Frame{Type: wire.TypeStdin, Payload: p})
}

// EndStdin sends a zero-length STDIN frame, signalling EOF to the remote command.
func (h *ExecHandles) EndStdin() error {
	return wire.Encode(h.client.conn, wire.Frame{Type: wire.TypeStdin, Payload: nil})
}

// Exec is valid only in Ready. It sends SIMPLE_COMMAND (or PTY_COMMAND if
// pty is set), transitions to Executing, and returns stream handles.
func (c *Client) Exec(command string, pty bool) (*ExecHandles, error) {
	c.mu.Lock()
	if err := c.stashedOrNil(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if c.state != fsm.Ready {
		c.mu.Unlock()
		return nil, &TerminalError{Kind: ProtocolError, Reason: "exec called outside Ready"}
	}
	streams := &execStreams{
		stdout: make(chan []byte, 32),
		stderr: make(chan []byte, 32),
		result: make(chan ExecResult, 1),
	}
	c.exec = streams
	c.state = fsm.Executing
	c.mu.Unlock()

	frameType := wire.TypeSimpleCommand
	if pty {
		frameType = wire.TypePTYCommand
	}
	if err := wire.Encode(c.conn, wire.Frame{Type: frameType, Payload: []byte(command)}); err != nil {
		c.onTerminal(&TerminalError{Kind: NoDaemon, Reason: "write command", Cause: err})
		return nil, c.errs.take()
	}

	return &ExecHandles{client: c, Stdout: streams.stdout, Stderr: streams.stderr, Result: streams.result}, nil
}

// Share is valid only in Ready. It sends SHARE and awaits SHARED.
func (c *Client) Share() (string, error) {
	c.mu.Lock()
	if err := c.stashedOrNil(); err != nil {
		c.mu.Unlock()
		return "", err
	}
	if c.state != fsm.Ready {
		c.mu.Unlock()
		return "", &TerminalError{Kind: ProtocolError, Reason: "share called outside Ready"}
	}
	c.mu.Unlock()

	if err := wire.Encode(c.conn, wire.Frame{Type: wire.TypeShare}); err != nil {
		c.onTerminal(&TerminalError{Kind: NoDaemon, Reason: "write SHARE", Cause: err})
		return "", c.errs.take()
	}

	select {
	case ev := <-c.ctrl:
		if ev.shared != nil {
			return ev.shared.ShareKey, nil
		}
		if ev.exception != nil {
			c.onTerminal(&TerminalError{Kind: DaemonError, Reason: ev.exception.Reason})
			return "", c.errs.take()
		}
		c.onTerminal(&TerminalError{Kind: ProtocolError, Reason: "unexpected frame while awaiting SHARED"})
		return "", c.errs.take()
	case <-c.closed:
		return "", c.errs.take()
	}
}

// Resize is valid in any non-Errored state. It sends RESIZE.
func (c *Client) Resize(rows, cols int) error {
	c.mu.Lock()
	if c.state == fsm.Errored {
		err := c.stashedOrNil()
		c.mu.Unlock()
		if err != nil {
			return err
		}
		return &TerminalError{Kind: Closed, Reason: "client is closed"}
	}
	c.mu.Unlock()

	return c.writeFrame(wire.TypeResize, protocol.ResizePayload{Rows: rows, Cols: cols})
}
