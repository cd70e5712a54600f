package daemon

import (
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/acolita/ssh-bridge/internal/adapters/realclock"
	"github.com/acolita/ssh-bridge/internal/adapters/realrand"
	"github.com/acolita/ssh-bridge/internal/adapters/realsshdialer"
	"github.com/acolita/ssh-bridge/internal/config"
	"github.com/acolita/ssh-bridge/internal/pool"
	"github.com/acolita/ssh-bridge/internal/sshadapter"
)

// Server owns the listener, the connection pool, and the set of in-flight
// handlers. Run accepts connections until Shutdown is called or the
// listener errors out.
type Server struct {
	listener net.Listener
	pool     *pool.Pool

	mu       sync.Mutex
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewServer builds a Server over an already-acquired listener, wiring the
// pool from the real clock/random/dialer adapters and applying cfg's TTLs
// and connection tuning.
func NewServer(listener net.Listener, cfg *config.DaemonConfig) *Server {
	clock := realclock.New()
	random := realrand.New()
	dialer := realsshdialer.New()

	p := pool.New(clock, random, dialer)
	p.WithTTLs(cfg.Pool.KeepTTL, cfg.Pool.ShareTTL)
	p.WithTuning(sshadapter.Tuning{
		HandshakeTimeout:  cfg.HandshakeTimeout,
		KeepaliveInterval: cfg.Keepalive.Interval,
		KeepaliveMisses:   cfg.Keepalive.Misses,
	})

	return &Server{
		listener: listener,
		pool:     p,
		shutdown: make(chan struct{}),
	}
}

// Run accepts connections until Shutdown closes the listener. Each
// connection gets its own ClientHandler goroutine.
func (s *Server) Run() error {
	clock := realclock.New()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			h := NewClientHandler(conn, s.pool, clock)
			h.Run(s.shutdown)
		}()
	}
}

// Shutdown closes the listener (unblocking Accept), signals every
// in-flight handler to finish its current step and close, waits for them,
// then drains the pool.
func (s *Server) Shutdown() {
	s.mu.Lock()
	select {
	case <-s.shutdown:
		s.mu.Unlock()
		return
	default:
		close(s.shutdown)
	}
	s.mu.Unlock()

	if err := s.listener.Close(); err != nil {
		slog.Debug("daemon: error closing listener", slog.String("error", err.Error()))
	}
	s.wg.Wait()
	s.pool.Clear()
}
