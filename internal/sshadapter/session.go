package sshadapter

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/ssh-bridge/internal/ports"
	"github.com/acolita/ssh-bridge/internal/protocol"
)

// Session wraps one *ssh.Client and the mutable state an exec can span:
// queued stdin written before a channel exists, a queued resize, the
// current channel's PTY flag, and whether the session is still fit for
// reuse once the caller relinquishes it.
type Session struct {
	client *ssh.Client
	clock  ports.Clock

	// Fingerprint and Banner are the values observed at Establish time, so
	// the daemon's client handler can reply CONNECTED on a Reuse hit without
	// re-running the handshake.
	Fingerprint string
	Banner      string
	// ShareKey is assigned lazily by the pool the first time this session
	// is relinquished with "share"; later shares of the same session reuse
	// it rather than minting a new one.
	ShareKey string

	mu            sync.Mutex
	current       *ssh.Session
	currentStdin  io.WriteCloser
	pty           bool
	rows, cols    int
	queuedStdin   bytes.Buffer
	stdinEnded    bool
	queuedResize  *protocol.ResizePayload
	reusable      bool
	closed        bool
	keepaliveStop chan struct{}
	observer      Observer

	pendingChallenge chan challengeReply
}

// SetObserver rebinds the session's event sink when a session changes
// hands: on relinquish the pool points it at a pool-internal observer so a
// keepalive failure while idle evicts the cache entry instead of writing to
// a client handler that may already be gone; on a reuse hit the daemon's
// client handler points it back at itself.
func (s *Session) SetObserver(o Observer) {
	s.mu.Lock()
	s.observer = o
	s.mu.Unlock()
}

func (s *Session) currentObserver() Observer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observer
}

type challengeReply struct {
	responses []string
	err       error
}

func newSession(client *ssh.Client, clock ports.Clock, reusable bool) *Session {
	return &Session{
		client:   client,
		clock:    clock,
		rows:     protocol.DefaultRows,
		cols:     protocol.DefaultCols,
		reusable: reusable,
	}
}

// startKeepalive sends keepalive@openssh.com every interval, tearing the
// session down as disconnected after consecutive missed responses. It reads
// the session's observer fresh on each failure rather than capturing it at
// start, since SetObserver may rebind it while the session sits idle in the
// pool or changes hands between client handlers.
func (s *Session) startKeepalive(interval time.Duration, tolerance int) {
	stop := make(chan struct{})
	s.mu.Lock()
	s.keepaliveStop = stop
	s.mu.Unlock()

	go func() {
		ticker := s.clock.NewTicker(interval)
		defer ticker.Stop()
		misses := 0
		for {
			select {
			case <-stop:
				return
			case <-ticker.C():
				_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
				if err != nil {
					misses++
				} else {
					misses = 0
				}
				if misses >= tolerance {
					s.mu.Lock()
					s.reusable = false
					s.mu.Unlock()
					if observer := s.currentObserver(); observer != nil {
						observer.Disconnected("remote connection closed unexpectedly")
					}
					s.Close()
					return
				}
			}
		}
	}()
}

// RespondToChallenge resolves the oldest pending keyboard-interactive
// callback with the given answers.
func (s *Session) RespondToChallenge(responses []string) error {
	s.mu.Lock()
	ch := s.pendingChallenge
	s.pendingChallenge = nil
	s.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("no pending challenge")
	}
	ch <- challengeReply{responses: responses}
	return nil
}

// WriteStdin writes to the current command's input, buffering it if no
// channel is open yet.
func (s *Session) WriteStdin(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentStdin == nil {
		if s.stdinEnded {
			return fmt.Errorf("stdin already closed")
		}
		s.queuedStdin.Write(p)
		return nil
	}
	_, err := s.currentStdin.Write(p)
	return err
}

// EndStdin half-closes the current command's input, or records that a
// future channel's stdin should be closed immediately after the queued
// bytes are flushed.
func (s *Session) EndStdin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stdinEnded = true
	if s.currentStdin == nil {
		return nil
	}
	return s.currentStdin.Close()
}

// Resize applies a window-size change to the current PTY channel, or
// stores it for the next one if no PTY channel is open. Dimensions are
// clamped per protocol.Clamp.
func (s *Session) Resize(rows, cols int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newRows := protocol.Clamp(s.rows, rows)
	newCols := protocol.Clamp(s.cols, cols)
	s.rows, s.cols = newRows, newCols

	if s.current != nil && s.pty {
		return s.current.WindowChange(newRows, newCols)
	}
	s.queuedResize = &protocol.ResizePayload{Rows: newRows, Cols: newCols}
	return nil
}

// Dimensions returns the session's current window size.
func (s *Session) Dimensions() (rows, cols int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, s.cols
}

// Reusable reports whether the session is still fit to be handed back to
// the pool (no channel-level error has forced it non-reusable).
func (s *Session) Reusable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reusable && !s.closed
}

// Relinquish tears the session down ("drop" mode) or leaves it alive for
// the pool to retain ("keep"/"share" mode); the pool owns the idle-map
// bookkeeping, this only decides whether the transport itself survives.
func (s *Session) Relinquish(drop bool) error {
	if drop {
		return s.Close()
	}
	return nil
}

// Close terminates the underlying SSH connection and stops the keepalive
// goroutine. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stop := s.keepaliveStop
	s.keepaliveStop = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	return s.client.Close()
}
