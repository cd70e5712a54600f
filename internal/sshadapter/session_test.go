package sshadapter

import (
	"strconv"
	"testing"
	"time"

	"github.com/acolita/ssh-bridge/internal/adapters/realclock"
	"github.com/acolita/ssh-bridge/internal/adapters/realsshdialer"
	"github.com/acolita/ssh-bridge/internal/protocol"
	"github.com/acolita/ssh-bridge/internal/testing/mockssh"
)

type recordingObserver struct {
	disconnected chan string
	connected    chan struct{}
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		disconnected: make(chan string, 1),
		connected:    make(chan struct{}, 1),
	}
}

func (o *recordingObserver) Challenge(string, string, string, []string) {}
func (o *recordingObserver) Banner(string)                              {}
func (o *recordingObserver) Connected(string, string)                   { o.connected <- struct{}{} }
func (o *recordingObserver) Unconnected(string)                         {}
func (o *recordingObserver) Disconnected(reason string)                 { o.disconnected <- reason }
func (o *recordingObserver) Stdout([]byte)                              {}
func (o *recordingObserver) Stderr([]byte)                              {}
func (o *recordingObserver) Result(protocol.Result)                     {}

func establishAgainst(t *testing.T, srv *mockssh.Server, observer Observer, tuning Tuning) *Session {
	t.Helper()
	port, err := strconv.Atoi(srv.Port())
	if err != nil {
		t.Fatalf("parse mock server port: %v", err)
	}
	params := protocol.ConnectParams{
		Username: "test",
		Hostname: srv.Host(),
		Port:     port,
		Password: "test",
		Reusable: true,
	}
	sess, err := Establish(realsshdialer.New(), realclock.New(), params, observer, nil, tuning)
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	return sess
}

func TestDimensionsDefaultToProtocolDefaults(t *testing.T) {
	srv, err := mockssh.New()
	if err != nil {
		t.Fatalf("start mock ssh server: %v", err)
	}
	defer srv.Close()

	sess := establishAgainst(t, srv, newRecordingObserver(), DefaultTuning())
	defer sess.Close()

	rows, cols := sess.Dimensions()
	if rows != protocol.DefaultRows || cols != protocol.DefaultCols {
		t.Fatalf("expected default dimensions, got rows=%d cols=%d", rows, cols)
	}

	sess.Resize(40, 100)
	rows, cols = sess.Dimensions()
	if rows != 40 || cols != 100 {
		t.Fatalf("expected resized dimensions, got rows=%d cols=%d", rows, cols)
	}
}

func TestSetObserverRebindsKeepaliveFailureDelivery(t *testing.T) {
	srv, err := mockssh.New()
	if err != nil {
		t.Fatalf("start mock ssh server: %v", err)
	}

	tuning := Tuning{HandshakeTimeout: time.Second, KeepaliveInterval: 20 * time.Millisecond, KeepaliveMisses: 2}
	first := newRecordingObserver()
	sess := establishAgainst(t, srv, first, tuning)

	second := newRecordingObserver()
	sess.SetObserver(second)

	srv.Close() // sever the transport so the next keepalive requests fail

	select {
	case <-second.disconnected:
	case <-time.After(2 * time.Second):
		t.Fatalf("rebound observer never saw the keepalive failure")
	}
	select {
	case <-first.disconnected:
		t.Fatalf("the original observer should not have been notified after rebinding")
	default:
	}
}
