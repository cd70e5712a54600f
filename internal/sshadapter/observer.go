package sshadapter

import "github.com/acolita/ssh-bridge/internal/protocol"

// Observer receives the tagged events an SSH session produces. Its methods
// are called synchronously from whichever goroutine is driving the
// underlying SSH library callback (the handshake goroutine for Challenge/
// Banner/Connected/Unconnected, the channel-reader goroutines for Stdout/
// Stderr/Result) — the caller is responsible for marshaling these back onto
// its own task if it needs to.
type Observer interface {
	// Challenge reports a keyboard-interactive prompt. The SSH library's
	// own goroutine blocks until RespondToChallenge resolves it; Observer
	// implementations must not block here waiting on anything that itself
	// waits for RespondToChallenge, or they'll deadlock against themselves.
	Challenge(title, instructions, language string, prompts []string)

	// Banner reports the server's pre-auth banner text, newline-terminated.
	Banner(text string)

	// Connected reports a successful handshake and authentication.
	Connected(fingerprint, banner string)

	// Unconnected reports a failure to reach Ready: dial, handshake, or
	// auth failure. The session never existed from the caller's view.
	Unconnected(reason string)

	// Disconnected reports a session that was Ready or Executing dying.
	Disconnected(reason string)

	// Stdout delivers a chunk of a running command's standard output.
	Stdout(p []byte)

	// Stderr delivers a chunk of a running command's standard error.
	Stderr(p []byte)

	// Result reports a command's completion or failure to start/complete.
	Result(res protocol.Result)
}
