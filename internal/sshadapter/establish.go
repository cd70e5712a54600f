package sshadapter

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/ssh-bridge/internal/ports"
	"github.com/acolita/ssh-bridge/internal/protocol"
)

const (
	defaultHandshakeTimeout  = 10 * time.Second
	defaultKeepaliveInterval = 10 * time.Second
	defaultKeepaliveMisses   = 3
)

// Tuning holds the timing knobs of Establish that internal/config exposes
// as daemon.yaml settings. A zero Tuning is not valid input — callers use
// DefaultTuning and override individual fields.
type Tuning struct {
	HandshakeTimeout  time.Duration
	KeepaliveInterval time.Duration
	KeepaliveMisses   int
}

// DefaultTuning returns the built-in defaults, used when no daemon config
// file overrides them.
func DefaultTuning() Tuning {
	return Tuning{
		HandshakeTimeout:  defaultHandshakeTimeout,
		KeepaliveInterval: defaultKeepaliveInterval,
		KeepaliveMisses:   defaultKeepaliveMisses,
	}
}

// Establish initiates an outbound SSH connection: dials with TCP_NODELAY,
// performs the handshake with tuning.HandshakeTimeout, verifies the host
// key fingerprint if one was supplied, authenticates with whichever of
// publickey/password/keyboard-interactive the params request, and on
// success starts the keepalive loop. Observer.Connected/Unconnected report
// the outcome; a non-nil error here always has already been reported via
// Unconnected.
//
// onAttempt, if non-nil, is called synchronously with the freshly
// constructed Session before the dial begins — before this function can
// possibly block on the network or on a challenge response. A caller that
// needs to route a later CHALLENGE_RESPONSE to this exact attempt (the
// handshake may still be blocked waiting on it) stashes the pointer here.
func Establish(dialer ports.SSHDialer, clock ports.Clock, params protocol.ConnectParams, observer Observer, onAttempt func(*Session), tuning Tuning) (*Session, error) {
	var observedFingerprint string
	var bannerText string

	sess := newSession(nil, clock, params.Reusable)
	if onAttempt != nil {
		onAttempt(sess)
	}
	challenge := func(title, instructions string, prompts []string) ([]string, error) {
		ch := make(chan challengeReply, 1)
		sess.mu.Lock()
		sess.pendingChallenge = ch
		sess.mu.Unlock()
		observer.Challenge(title, instructions, "", prompts)
		reply := <-ch
		return reply.responses, reply.err
	}

	methods, err := buildAuthMethods(params, challenge)
	if err != nil {
		reason := fmt.Sprintf("unexpected error (%s)", err.Error())
		observer.Unconnected(reason)
		return nil, fmt.Errorf("%s", reason)
	}

	config := &ssh.ClientConfig{
		User:            params.Username,
		Auth:            methods,
		Timeout:         tuning.HandshakeTimeout,
		HostKeyCallback: newHostKeyCallback(params.Fingerprint, &observedFingerprint),
		BannerCallback: func(message string) error {
			if !strings.HasSuffix(message, "\n") {
				message += "\n"
			}
			bannerText = message
			observer.Banner(message)
			return nil
		},
	}

	addr := fmt.Sprintf("%s:%d", params.Hostname, params.Port)
	client, err := dialer.Dial("tcp", addr, config)
	if err != nil {
		reason := classify(err)
		observer.Unconnected(reason)
		return nil, fmt.Errorf("%s", reason)
	}

	sess.client = client
	sess.Fingerprint = observedFingerprint
	sess.Banner = bannerText
	sess.SetObserver(observer)

	sess.startKeepalive(tuning.KeepaliveInterval, tuning.KeepaliveMisses)
	observer.Connected(observedFingerprint, bannerText)
	return sess, nil
}

// newHostKeyCallback builds a ssh.HostKeyCallback that records the
// observed fingerprint into *observed and, if expected is non-empty,
// rejects a presented key that doesn't match it.
func newHostKeyCallback(expected string, observed *string) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		sum := sha256.Sum256(key.Marshal())
		actual := base64.StdEncoding.EncodeToString(sum[:])
		*observed = actual
		if expected != "" && expected != actual {
			return &fingerprintMismatch{expected: expected, actual: actual}
		}
		return nil
	}
}
