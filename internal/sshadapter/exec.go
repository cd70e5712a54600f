package sshadapter

import (
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/ssh-bridge/internal/protocol"
)

const ptyTerm = "xterm-256color"

// Exec opens a channel for command, requesting a PTY with the session's
// current window size if pty is set, flushes any stdin/resize queued
// before the channel existed, and streams stdout/stderr/result to
// observer. A channel-level error (failure to open the session, request a
// PTY, or start the command) forces the session non-reusable and reports
// result({error}) rather than a recoverable per-operation failure.
func (s *Session) Exec(command string, pty bool, observer Observer) error {
	sshSession, err := s.client.NewSession()
	if err != nil {
		s.markUnreusable()
		observer.Result(protocol.Result{Error: protocol.StringPtr(classify(err))})
		return err
	}

	s.mu.Lock()
	s.pty = pty
	rows, cols := s.rows, s.cols
	if s.queuedResize != nil {
		rows, cols = s.queuedResize.Rows, s.queuedResize.Cols
		s.rows, s.cols = rows, cols
		s.queuedResize = nil
	}
	s.mu.Unlock()

	if pty {
		modes := ssh.TerminalModes{
			ssh.ECHO:          1,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		}
		if err := sshSession.RequestPty(ptyTerm, rows, cols, modes); err != nil {
			sshSession.Close()
			s.markUnreusable()
			observer.Result(protocol.Result{Error: protocol.StringPtr(classify(err))})
			return err
		}
	}

	stdin, err := sshSession.StdinPipe()
	if err != nil {
		sshSession.Close()
		s.markUnreusable()
		observer.Result(protocol.Result{Error: protocol.StringPtr(classify(err))})
		return err
	}
	stdout, err := sshSession.StdoutPipe()
	if err != nil {
		sshSession.Close()
		s.markUnreusable()
		observer.Result(protocol.Result{Error: protocol.StringPtr(classify(err))})
		return err
	}
	stderr, err := sshSession.StderrPipe()
	if err != nil {
		sshSession.Close()
		s.markUnreusable()
		observer.Result(protocol.Result{Error: protocol.StringPtr(classify(err))})
		return err
	}

	s.mu.Lock()
	s.current = sshSession
	s.currentStdin = stdin
	queued := s.queuedStdin.Bytes()
	ended := s.stdinEnded
	s.queuedStdin.Reset()
	s.stdinEnded = false
	s.mu.Unlock()

	if len(queued) > 0 {
		stdin.Write(queued)
	}
	if ended {
		stdin.Close()
	}

	if err := sshSession.Start(command); err != nil {
		sshSession.Close()
		s.clearCurrent()
		s.markUnreusable()
		observer.Result(protocol.Result{Error: protocol.StringPtr(classify(err))})
		return err
	}

	go streamChunks(stdout, observer.Stdout)
	go streamChunks(stderr, observer.Stderr)

	go func() {
		waitErr := sshSession.Wait()
		s.clearCurrent()
		observer.Result(resultFromWait(waitErr))
	}()

	return nil
}

func streamChunks(r io.Reader, deliver func([]byte)) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			deliver(chunk)
		}
		if err != nil {
			return
		}
	}
}

func resultFromWait(err error) protocol.Result {
	if err == nil {
		return protocol.Result{Code: protocol.IntPtr(0)}
	}
	if exitErr, ok := err.(*ssh.ExitError); ok {
		if exitErr.Signal() != "" {
			return protocol.Result{Signal: protocol.StringPtr(exitErr.Signal())}
		}
		return protocol.Result{Code: protocol.IntPtr(exitErr.ExitStatus())}
	}
	return protocol.Result{Error: protocol.StringPtr(fmt.Sprintf("unexpected error (%s)", err.Error()))}
}

func (s *Session) clearCurrent() {
	s.mu.Lock()
	s.current = nil
	s.currentStdin = nil
	s.mu.Unlock()
}

func (s *Session) markUnreusable() {
	s.mu.Lock()
	s.reusable = false
	s.mu.Unlock()
}
