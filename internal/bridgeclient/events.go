package bridgeclient

import "github.com/acolita/ssh-bridge/internal/protocol"

// ctrlEvent is whatever arrives on the control channel while a connect,
// reuse, or share call is pending: the handshake-level frames. Exactly one
// of these fields is non-nil/true per event.
type ctrlEvent struct {
	connected   *protocol.Connected
	unconnected *protocol.Unconnected
	challenge   *protocol.Challenge
	shared      *protocol.Shared
	exception   *protocol.Exception
}

// ExecResult is what exec's result channel delivers: either a normal
// completion (code or signal) or a terminal SSH_ERROR.
type ExecResult struct {
	Code   *int
	Signal *string
	Err    error
}

// execStreams holds the channels backing one in-flight exec. stdout/stderr
// close when the command's RESULT frame arrives; result fires exactly once.
type execStreams struct {
	stdout chan []byte
	stderr chan []byte
	result chan ExecResult
}
