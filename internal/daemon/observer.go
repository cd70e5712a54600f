package daemon

import "github.com/acolita/ssh-bridge/internal/protocol"

// attemptObserver implements sshadapter.Observer by forwarding every event
// onto the handler's event channel, so the handler's main loop is the only
// goroutine that ever writes a frame to the client socket. Banner is not
// forwarded on its own — the CONNECTED frame bundles it with the
// fingerprint, and Establish already captures the latest banner text onto
// the Session before calling Connected.
type attemptObserver struct {
	events chan any
}

func (o *attemptObserver) Challenge(title, instructions, language string, prompts []string) {
	o.events <- evChallenge{title: title, instructions: instructions, language: language, prompts: prompts}
}

func (o *attemptObserver) Banner(text string) {}

func (o *attemptObserver) Connected(fingerprint, banner string) {
	o.events <- evConnected{fingerprint: fingerprint, banner: banner}
}

func (o *attemptObserver) Unconnected(reason string) {
	o.events <- evUnconnected{reason: reason}
}

func (o *attemptObserver) Disconnected(reason string) {
	o.events <- evDisconnected{reason: reason}
}

func (o *attemptObserver) Stdout(p []byte) {
	o.events <- evStdout{data: p}
}

func (o *attemptObserver) Stderr(p []byte) {
	o.events <- evStderr{data: p}
}

func (o *attemptObserver) Result(res protocol.Result) {
	o.events <- evResult{res: res}
}
