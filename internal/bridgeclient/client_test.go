package bridgeclient

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/acolita/ssh-bridge/internal/protocol"
	"github.com/acolita/ssh-bridge/internal/wire"
)

func newPipe(t *testing.T) (*Client, net.Conn) {
	t.Helper()
	client, daemon := net.Pipe()
	c := New(client)
	t.Cleanup(func() { daemon.Close() })
	return c, daemon
}

func send(t *testing.T, conn net.Conn, typ wire.Type, v any) {
	t.Helper()
	var payload []byte
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		payload = data
	}
	if err := wire.Encode(conn, wire.Frame{Type: typ, Payload: payload}); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func readFrame(t *testing.T, dec *wire.Decoder) wire.Frame {
	t.Helper()
	f, err := dec.Next()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return f
}

func TestConnectSuccess(t *testing.T) {
	c, daemon := newPipe(t)
	dec := wire.NewDecoder(daemon)

	done := make(chan struct{})
	var result ConnectResult
	var err error
	go func() {
		result, err = c.Connect(protocol.ConnectParams{Username: "u", Hostname: "h", Port: 22}, nil)
		close(done)
	}()

	f := readFrame(t, dec)
	if f.Type != wire.TypeConnect {
		t.Fatalf("expected CONNECT frame, got %d", f.Type)
	}
	banner := "hello"
	send(t, daemon, wire.TypeConnected, protocol.Connected{Fingerprint: "aa:bb", Banner: &banner})

	<-done
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	if !result.Success || result.Fingerprint != "aa:bb" || result.Banner != "hello" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestConnectUnconnected(t *testing.T) {
	c, daemon := newPipe(t)
	dec := wire.NewDecoder(daemon)

	done := make(chan struct{})
	var result ConnectResult
	go func() {
		result, _ = c.Connect(protocol.ConnectParams{Username: "u", Hostname: "h", Port: 22}, nil)
		close(done)
	}()

	readFrame(t, dec)
	send(t, daemon, wire.TypeUnconnected, protocol.Unconnected{Reason: "client-authentication: authentication denied"})

	<-done
	if result.Success {
		t.Fatalf("expected unsuccessful result")
	}
	if result.Reason == "" {
		t.Fatalf("expected a reason")
	}
}

func TestConnectChallengeRoundTrip(t *testing.T) {
	c, daemon := newPipe(t)
	dec := wire.NewDecoder(daemon)

	handler := func(ch protocol.Challenge) ([]string, error) {
		if len(ch.Prompts) != 1 {
			t.Fatalf("expected 1 prompt, got %d", len(ch.Prompts))
		}
		return []string{"secret"}, nil
	}

	done := make(chan struct{})
	var result ConnectResult
	go func() {
		result, _ = c.Connect(protocol.ConnectParams{Username: "u", Hostname: "h", Port: 22, TryKeyboard: true}, handler)
		close(done)
	}()

	readFrame(t, dec) // CONNECT
	send(t, daemon, wire.TypeChallenge, protocol.Challenge{Prompts: []string{"Password:"}})

	f := readFrame(t, dec) // CHALLENGE_RESPONSE
	if f.Type != wire.TypeChallengeResponse {
		t.Fatalf("expected CHALLENGE_RESPONSE, got %d", f.Type)
	}
	var resp protocol.ChallengeResponse
	json.Unmarshal(f.Payload, &resp)
	if len(resp.Responses) != 1 || resp.Responses[0] != "secret" {
		t.Fatalf("unexpected responses: %+v", resp)
	}

	send(t, daemon, wire.TypeConnected, protocol.Connected{Fingerprint: "aa:bb"})
	<-done
	if !result.Success {
		t.Fatalf("expected success after challenge round trip")
	}
}

func TestExecStreamsAndResult(t *testing.T) {
	c, daemon := newPipe(t)
	dec := wire.NewDecoder(daemon)

	go func() {
		c.Connect(protocol.ConnectParams{Username: "u", Hostname: "h", Port: 22}, nil)
	}()
	readFrame(t, dec)
	send(t, daemon, wire.TypeConnected, protocol.Connected{Fingerprint: "aa:bb"})
	waitReady(t, c)

	// net.Pipe is unbuffered: Exec's write of the command frame only returns
	// once the daemon side reads it, so the read runs concurrently.
	frames := make(chan wire.Frame, 1)
	go func() {
		f, _ := dec.Next()
		frames <- f
	}()
	handles, err := c.Exec("echo hi", false)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	f := <-frames
	if f.Type != wire.TypeSimpleCommand {
		t.Fatalf("expected SIMPLE_COMMAND, got %d", f.Type)
	}

	if err := wire.Encode(daemon, wire.Frame{Type: wire.TypeStdout, Payload: []byte("hi\n")}); err != nil {
		t.Fatalf("encode stdout: %v", err)
	}
	code := 0
	send(t, daemon, wire.TypeResult, protocol.Result{Code: &code})

	var out []byte
	for chunk := range handles.Stdout {
		out = append(out, chunk...)
	}
	if string(out) != "hi\n" {
		t.Fatalf("unexpected stdout: %q", out)
	}
	res := <-handles.Result
	if res.Code == nil || *res.Code != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func waitReady(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		ready := c.state.String() == "ready"
		c.mu.Unlock()
		if ready {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("client never reached Ready")
}

func TestErrBoxConsumeOncePolicy(t *testing.T) {
	c, daemon := newPipe(t)
	daemon.Close()

	_, err := c.Connect(protocol.ConnectParams{Username: "u", Hostname: "h", Port: 22}, nil)
	if err == nil {
		t.Fatalf("expected an error after daemon closed the connection")
	}
	first, ok := err.(*TerminalError)
	if !ok || first.Kind != NoDaemon {
		t.Fatalf("expected NoDaemon, got %#v", err)
	}

	_, err = c.Connect(protocol.ConnectParams{Username: "u", Hostname: "h", Port: 22}, nil)
	second, ok := err.(*TerminalError)
	if !ok || second.Kind != Closed {
		t.Fatalf("expected a generic Closed error on second call, got %#v", err)
	}
}

func TestCloseCancelsFutureCalls(t *testing.T) {
	c, _ := newPipe(t)
	c.Close()

	_, err := c.Share()
	te, ok := err.(*TerminalError)
	if !ok || te.Kind != Closed {
		t.Fatalf("expected Closed, got %#v", err)
	}
}
