// Package daemon implements the server side of the protocol: the listener,
// the single-instance lock, and the per-client state machine that brokers
// frames between a caller and a pooled SSH session.
package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/acolita/ssh-bridge/internal/fsm"
	"github.com/acolita/ssh-bridge/internal/pool"
	"github.com/acolita/ssh-bridge/internal/ports"
	"github.com/acolita/ssh-bridge/internal/protocol"
	"github.com/acolita/ssh-bridge/internal/secure"
	"github.com/acolita/ssh-bridge/internal/sshadapter"
	"github.com/acolita/ssh-bridge/internal/wire"
)

// legalInputs is the §4.5 table: which inbound frame types are accepted in
// each state. Anything outside it is a fatal protocol violation.
var legalInputs = map[fsm.State]map[wire.Type]bool{
	fsm.Initial: {
		wire.TypeReuse:   true,
		wire.TypeConnect: true,
		wire.TypeResize:  true,
	},
	fsm.Connecting: {
		wire.TypeChallengeResponse: true,
		wire.TypeResize:            true,
	},
	fsm.Ready: {
		wire.TypeSimpleCommand:     true,
		wire.TypePTYCommand:        true,
		wire.TypeShare:             true,
		wire.TypeResize:            true,
		wire.TypeChallengeResponse: true, // late arrival, ignored
	},
	fsm.Executing: {
		wire.TypeStdin:  true,
		wire.TypeResize: true,
	},
}

// ClientHandler drives one accepted connection end to end. Its loop reads
// frames and dispatches them, and selects on an event channel fed by
// whichever goroutine (itself or a spawned connect/exec goroutine) is
// reporting an SSH-level event — this keeps every transition serialized
// through a single select rather than a mutex.
type ClientHandler struct {
	conn   net.Conn
	pool   *pool.Pool
	clock  ports.Clock
	log    *slog.Logger
	connID string

	events chan any

	state        fsm.State
	session      *sshadapter.Session
	reuseKey     protocol.ReuseParams
	reusable     bool
	attemptInFlt *sshadapter.Session // session of the in-progress CONNECT attempt, for RespondToChallenge
	attemptMu    sync.Mutex

	rows, cols int

	writeMu sync.Mutex
}

// NewClientHandler builds a handler for a freshly accepted connection.
func NewClientHandler(conn net.Conn, p *pool.Pool, clock ports.Clock) *ClientHandler {
	return &ClientHandler{
		conn:   conn,
		pool:   p,
		clock:  clock,
		log:    slog.Default().With(slog.String("conn_id", uuid.NewString())),
		events: make(chan any, 16),
		state:  fsm.Initial,
		rows:   protocol.DefaultRows,
		cols:   protocol.DefaultCols,
	}
}

// Run drives the handler until the connection closes or shutdown is
// requested. It never returns an error the caller must act on — all
// failures are handled by closing the connection and logging.
func (h *ClientHandler) Run(shutdown <-chan struct{}) {
	defer h.onClose()

	type frameMsg struct {
		frame wire.Frame
		err   error
	}
	frames := make(chan frameMsg)
	go func() {
		dec := wire.NewDecoder(h.conn)
		for {
			f, err := dec.Next()
			frames <- frameMsg{frame: f, err: err}
			if err != nil {
				return
			}
		}
	}()

	executingResult := false
	sd := shutdown

	for {
		select {
		case fm := <-frames:
			if fm.err != nil {
				if !errors.Is(fm.err, io.EOF) {
					h.log.Debug("frame read error", slog.String("error", fm.err.Error()))
				}
				return
			}
			if h.state == fsm.Errored {
				return
			}
			h.dispatch(fm.frame)

		case ev := <-h.events:
			h.handleEvent(ev)

		case <-sd:
			if h.state != fsm.Executing {
				return
			}
			executingResult = true
			sd = nil // already observed; wait for the pending RESULT instead of re-selecting a closed channel
		}

		if executingResult && h.state != fsm.Executing {
			return
		}
	}
}

func (h *ClientHandler) dispatch(f wire.Frame) {
	allowed := legalInputs[h.state]
	if !allowed[f.Type] {
		if f.Type == wire.TypeStdin {
			return // silently ignored outside Executing
		}
		h.protocolError(fmt.Sprintf("frame type %d not legal in state %s", f.Type, h.state))
		return
	}

	switch f.Type {
	case wire.TypeReuse:
		h.handleReuse(f.Payload)
	case wire.TypeConnect:
		h.handleConnect(f.Payload)
	case wire.TypeChallengeResponse:
		h.handleChallengeResponse(f.Payload)
	case wire.TypeSimpleCommand:
		h.handleExec(f.Payload, false)
	case wire.TypePTYCommand:
		h.handleExec(f.Payload, true)
	case wire.TypeStdin:
		h.handleStdin(f.Payload)
	case wire.TypeShare:
		h.handleShare()
	case wire.TypeResize:
		h.handleResize(f.Payload)
	}
}

func (h *ClientHandler) handleReuse(payload []byte) {
	params, err := protocol.ParseReuse(payload)
	if err != nil {
		h.fatalValidation(err)
		return
	}

	sess, ok := h.pool.Reuse(params)
	if !ok {
		h.writeJSON(wire.TypeUnconnected, protocol.Unconnected{Reason: "no cached connection to reuse"})
		return
	}

	h.session = sess
	h.reuseKey = params
	h.reusable = true
	h.rows, h.cols = sess.Dimensions()
	h.state = fsm.Ready
	sess.SetObserver(&attemptObserver{events: h.events})
	h.writeJSON(wire.TypeConnected, protocol.Connected{
		Fingerprint: sess.Fingerprint,
		Banner:      bannerPtr(sess.Banner),
	})
}

func (h *ClientHandler) handleConnect(payload []byte) {
	params, err := protocol.ParseConnect(payload)
	if err != nil {
		h.fatalValidation(err)
		return
	}

	h.state = fsm.Connecting
	h.reuseKey = protocol.ReuseParams{
		Username: params.Username,
		Hostname: params.Hostname,
		Port:     params.Port,
		ShareKey: params.ShareKey,
	}
	h.reusable = params.Reusable

	observer := &attemptObserver{events: h.events}
	onAttempt := func(s *sshadapter.Session) {
		h.attemptMu.Lock()
		h.attemptInFlt = s
		h.attemptMu.Unlock()
	}

	go func() {
		sess, err := h.pool.Connect(params, observer, onAttempt)
		if err == nil {
			h.attemptMu.Lock()
			h.session = sess
			h.attemptMu.Unlock()
		}
		// The pool has already taken its own copy of any credential it
		// decides to cache; the copy decoded from this frame's payload is
		// no longer needed either way.
		secure.WipeBytes(params.PrivateKey)
		h.events <- evAttemptDone{err: err}
	}()
}

func (h *ClientHandler) handleChallengeResponse(payload []byte) {
	if h.state != fsm.Connecting {
		return // late arrival in Ready: ignored per §4.5
	}
	resp, err := protocol.ParseChallengeResponse(payload)
	if err != nil {
		h.fatalValidation(err)
		return
	}

	h.attemptMu.Lock()
	sess := h.attemptInFlt
	h.attemptMu.Unlock()
	if sess == nil {
		return
	}
	if err := sess.RespondToChallenge(resp.Responses); err != nil {
		h.log.Debug("challenge response with no pending challenge", slog.String("error", err.Error()))
	}
}

func (h *ClientHandler) handleExec(payload []byte, pty bool) {
	command, err := protocol.ValidateCommand(payload)
	if err != nil {
		h.fatalValidation(err)
		return
	}

	h.state = fsm.Executing
	observer := &attemptObserver{events: h.events}
	if err := h.session.Exec(command, pty, observer); err != nil {
		h.log.Debug("exec failed to start", slog.String("error", err.Error()))
	}
}

func (h *ClientHandler) handleStdin(payload []byte) {
	if len(payload) == 0 {
		h.session.EndStdin()
		return
	}
	h.session.WriteStdin(payload)
}

func (h *ClientHandler) handleShare() {
	shareKey, err := h.pool.Relinquish(h.reuseKey, h.session, pool.ModeShare)
	if err != nil {
		h.log.Warn("share failed", slog.String("error", err.Error()))
		return
	}
	h.writeJSON(wire.TypeShared, protocol.Shared{ShareKey: shareKey})
}

func (h *ClientHandler) handleResize(payload []byte) {
	r, err := protocol.ParseResize(payload)
	if err != nil {
		h.fatalValidation(err)
		return
	}
	h.rows = protocol.Clamp(h.rows, r.Rows)
	h.cols = protocol.Clamp(h.cols, r.Cols)
	if h.session != nil {
		h.session.Resize(r.Rows, r.Cols)
	}
}

func (h *ClientHandler) handleEvent(ev any) {
	switch e := ev.(type) {
	case evChallenge:
		h.writeJSON(wire.TypeChallenge, protocol.Challenge{
			Title:        e.title,
			Instructions: e.instructions,
			Language:     e.language,
			Prompts:      e.prompts,
		})

	case evConnected:
		h.writeJSON(wire.TypeConnected, protocol.Connected{
			Fingerprint: e.fingerprint,
			Banner:      bannerPtr(e.banner),
		})

	case evUnconnected:
		h.state = fsm.Initial
		h.writeJSON(wire.TypeUnconnected, protocol.Unconnected{Reason: e.reason})

	case evAttemptDone:
		if e.err == nil {
			h.state = fsm.Ready
			if h.session != nil {
				h.session.Resize(h.rows, h.cols)
			}
		}
		// on error, evUnconnected already reset state to Initial

	case evDisconnected:
		if h.state != fsm.Ready && h.state != fsm.Executing {
			return
		}
		h.session = nil
		h.writeJSON(wire.TypeDisconnected, protocol.Disconnected{Reason: e.reason})
		h.state = fsm.Errored

	case evStdout:
		h.writeRaw(wire.TypeStdout, e.data)

	case evStderr:
		h.writeRaw(wire.TypeStderr, e.data)

	case evResult:
		if h.state != fsm.Executing {
			h.protocolError("result event outside Executing")
			return
		}
		h.writeJSON(wire.TypeResult, e.res)
		h.state = fsm.Ready
	}
}

// onClose runs when the connection loop exits: per §4.5, a Ready session
// goes back to the pool with keep; anything else is dropped.
func (h *ClientHandler) onClose() {
	h.conn.Close()
	if h.session == nil {
		return
	}
	if h.state == fsm.Ready {
		h.pool.Relinquish(h.reuseKey, h.session, pool.ModeKeep)
		return
	}
	h.pool.Relinquish(h.reuseKey, h.session, pool.ModeDrop)
}

func (h *ClientHandler) protocolError(reason string) {
	h.writeJSON(wire.TypeException, protocol.Exception{Reason: reason})
	h.state = fsm.Errored
}

func (h *ClientHandler) fatalValidation(err error) {
	h.protocolError(err.Error())
}

func (h *ClientHandler) writeJSON(t wire.Type, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error("marshal frame payload", slog.String("error", err.Error()))
		return
	}
	h.writeRaw(t, data)
}

func (h *ClientHandler) writeRaw(t wire.Type, payload []byte) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := wire.Encode(h.conn, wire.Frame{Type: t, Payload: payload}); err != nil {
		h.log.Debug("write frame", slog.String("error", err.Error()))
	}
}

func bannerPtr(banner string) *string {
	if banner == "" {
		return nil
	}
	return &banner
}
