package daemon

import "github.com/acolita/ssh-bridge/internal/protocol"

// The handler's main loop selects on a single channel of these event
// types, whichever background goroutine produced them (the connect
// goroutine or the session's observer callbacks); a REUSE hit writes its
// reply directly from the main loop and produces no event. This keeps
// every state transition serialized through one select, per the
// concurrency model.

type evChallenge struct {
	title, instructions, language string
	prompts                       []string
}

type evConnected struct {
	fingerprint, banner string
}

type evUnconnected struct {
	reason string
}

type evDisconnected struct {
	reason string
}

type evStdout struct{ data []byte }

type evStderr struct{ data []byte }

type evResult struct{ res protocol.Result }

// evAttemptDone reports that a background CONNECT attempt has returned
// from pool.Connect, after any evConnected/evUnconnected for it has already
// been enqueued on the same channel.
type evAttemptDone struct {
	err error
}
