package sshadapter

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
)

// fingerprintMismatch is returned by the HostKeyCallback built by
// newHostKeyCallback when the presented key doesn't match the caller's
// expected fingerprint. classify renders it into its own reason string
// without going through the generic handshake bucket.
type fingerprintMismatch struct {
	expected string
	actual   string
}

func (e *fingerprintMismatch) Error() string {
	return fmt.Sprintf("host fingerprint has changed (expected %s, got %s)", e.expected, e.actual)
}

// classify maps a raw dial/handshake error onto the six reason buckets of
// the connection-establishment contract and renders the caller-facing
// reason string.
func classify(err error) string {
	if err == nil {
		return ""
	}

	var mismatch *fingerprintMismatch
	if errors.As(err, &mismatch) {
		return mismatch.Error()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "connection timed out"
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return "connection timed out"
		}
		if _, ok := opErr.Err.(*net.DNSError); ok {
			return fmt.Sprintf("DNS lookup failed (%s)", opErr.Err.Error())
		}
		return fmt.Sprintf("connection error (%s)", opErr.Err.Error())
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Sprintf("DNS lookup failed (%s)", dnsErr.Error())
	}

	if isAuthFailure(err) {
		return "authentication denied"
	}

	if isHandshakeFailure(err) {
		return fmt.Sprintf("SSH handshake failed (%s)", err.Error())
	}

	return fmt.Sprintf("unexpected error (%s)", err.Error())
}

func isAuthFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "permission denied")
}

func isHandshakeFailure(err error) bool {
	var certErr *x509.UnknownAuthorityError
	if errors.As(err, &certErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "handshake failed") ||
		strings.Contains(msg, "ssh: ") ||
		strings.Contains(msg, "key exchange")
}
