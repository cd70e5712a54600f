// Package cachekey defines the pool's addressing scheme: a (username,
// lowercased hostname, port) triple, optionally extended with a share key
// for transient private-use reuse.
package cachekey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// Key is the cache key: (username, lowercased hostname, port). Equality is
// exact on the normalized tuple.
type Key struct {
	User string
	Host string
	Port int
}

// New builds a Key, lowercasing the hostname as the spec requires.
func New(user, host string, port int) Key {
	return Key{User: user, Host: strings.ToLower(host), Port: port}
}

// Any is implemented by Key and Extended, restricting pool map keys to the
// two concrete, comparable shapes the spec defines.
type Any interface {
	isCacheKey()
}

func (Key) isCacheKey() {}

// Extended is a cache key concatenated with an opaque share key.
type Extended struct {
	Key      Key
	ShareKey string
}

func (Extended) isCacheKey() {}

// String renders the key for logging, never including the share key (it is
// an unguessable capability token and must not appear in logs).
func (k Key) String() string {
	return fmt.Sprintf("%s@%s:%d", k.User, k.Host, k.Port)
}

// NewShareKey generates an unguessable 128-bit token rendered as lowercase
// hex, using r as the source of randomness (crypto/rand.Reader in
// production; a deterministic fake in tests).
func NewShareKey(r interface{ Read([]byte) (int, error) }) (string, error) {
	b := make([]byte, 16)
	if _, err := r.Read(b); err != nil {
		return "", fmt.Errorf("cachekey: generate share key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewShareKeyCrypto is a convenience wrapper over crypto/rand.Reader for
// callers that don't need to inject a ports.Random.
func NewShareKeyCrypto() (string, error) {
	return NewShareKey(rand.Reader)
}
