// Package pool implements the daemon's connection pool: idle SSH sessions
// retained for reuse/share, and a small credential cache keyed by the same
// (username, hostname, port) tuple.
package pool

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/acolita/ssh-bridge/internal/cachekey"
	"github.com/acolita/ssh-bridge/internal/ports"
	"github.com/acolita/ssh-bridge/internal/protocol"
	"github.com/acolita/ssh-bridge/internal/sshadapter"
)

// RelinquishMode selects what happens to a session handed back to the pool.
type RelinquishMode int

const (
	// ModeDrop closes the session unconditionally.
	ModeDrop RelinquishMode = iota
	// ModeKeep retains the session under its plain cache key for keepTTL.
	ModeKeep
	// ModeShare retains the session under an extended (share-keyed) cache
	// key for shareTTL and returns the share key to the caller.
	ModeShare
)

// CachedCredential is a sanitized, reusable copy of a successful CONNECT's
// credentials (tryKeyboard is always false — a cached credential is never
// replayed through an interactive challenge).
type CachedCredential struct {
	PrivateKey []byte
	Passphrase string
	Password   string
}

type entry struct {
	session  *sshadapter.Session
	key      cachekey.Any
	deadline time.Time
	timer    ports.Timer
}

// Pool holds idle sessions and cached credentials. All operations serialize
// on a single mutex — every operation mutates shared state, so there is no
// read-mostly path worth a RWMutex.
type Pool struct {
	mu    sync.Mutex
	idle  map[cachekey.Any]*entry
	creds map[cachekey.Key]*CachedCredential

	clock  ports.Clock
	random ports.Random
	dialer ports.SSHDialer

	keepTTL  time.Duration
	shareTTL time.Duration
	tuning   sshadapter.Tuning
}

// New builds an empty Pool with the built-in default TTLs and connection
// tuning. Use WithTTLs/WithTuning to apply a loaded daemon config.
func New(clock ports.Clock, random ports.Random, dialer ports.SSHDialer) *Pool {
	return &Pool{
		idle:     make(map[cachekey.Any]*entry),
		creds:    make(map[cachekey.Key]*CachedCredential),
		clock:    clock,
		random:   random,
		dialer:   dialer,
		keepTTL:  12 * time.Hour,
		shareTTL: 5 * time.Second,
		tuning:   sshadapter.DefaultTuning(),
	}
}

// WithTTLs overrides the keep/share retention durations, e.g. from a loaded
// daemon config.
func (p *Pool) WithTTLs(keepTTL, shareTTL time.Duration) *Pool {
	p.keepTTL = keepTTL
	p.shareTTL = shareTTL
	return p
}

// WithTuning overrides the SSH adapter's connection tuning.
func (p *Pool) WithTuning(tuning sshadapter.Tuning) *Pool {
	p.tuning = tuning
	return p
}

// Reuse looks up an idle session by (extended, if a share key is present)
// cache key, atomically removing it and cancelling its retention timer. The
// lookup itself never touches the network, so unlike Connect it reports
// its outcome as a plain return rather than through an Observer — the
// caller (the daemon's per-client handler, already on its own goroutine)
// writes CONNECTED/UNCONNECTED directly.
func (p *Pool) Reuse(params protocol.ReuseParams) (*sshadapter.Session, bool) {
	key := p.reuseKey(params)

	p.mu.Lock()
	e, ok := p.idle[key]
	if ok {
		delete(p.idle, key)
		e.timer.Stop()
	}
	p.mu.Unlock()

	if !ok {
		return nil, false
	}
	return e.session, true
}

func (p *Pool) reuseKey(params protocol.ReuseParams) cachekey.Any {
	base := cachekey.New(params.Username, params.Hostname, params.Port)
	if params.ShareKey != "" {
		return cachekey.Extended{Key: base, ShareKey: params.ShareKey}
	}
	return base
}

// Connect establishes a new session, substituting a cached credential when
// the caller supplied none, dropping an unparseable private key in favor of
// a remaining credential, and caching a sanitized copy of the credential
// on a fresh success. An attempt with TryKeyboard set is never cached,
// whether or not a challenge was actually issued. On a client-authentication failure that used a
// cached credential, the credential is evicted. onAttempt is forwarded to
// sshadapter.Establish — see its doc for why the caller needs it.
func (p *Pool) Connect(params protocol.ConnectParams, observer sshadapter.Observer, onAttempt func(*sshadapter.Session)) (*sshadapter.Session, error) {
	key := cachekey.New(params.Username, params.Hostname, params.Port)

	usedCached := false
	var cachedAtAttempt *CachedCredential

	if !params.HasCredentials() {
		p.mu.Lock()
		cred, ok := p.creds[key]
		p.mu.Unlock()
		if !ok {
			observer.Unconnected("no credentials provided")
			return nil, fmt.Errorf("no credentials provided")
		}
		params.PrivateKey = cred.PrivateKey
		params.Passphrase = cred.Passphrase
		params.Password = cred.Password
		usedCached = true
		cachedAtAttempt = cred
	}

	if len(params.PrivateKey) > 0 {
		if err := sshadapter.ValidatePrivateKey(params.PrivateKey, params.Passphrase); err != nil {
			if params.Password == "" {
				observer.Unconnected("authentication denied")
				return nil, fmt.Errorf("authentication denied")
			}
			params.PrivateKey = nil
			params.Passphrase = ""
		}
	}

	sess, err := sshadapter.Establish(p.dialer, p.clock, params, observer, onAttempt, p.tuning)
	if err != nil {
		if usedCached && err.Error() == "authentication denied" {
			p.evictIfSame(key, cachedAtAttempt)
		}
		return nil, err
	}

	if !usedCached && !params.TryKeyboard {
		p.mu.Lock()
		p.creds[key] = &CachedCredential{
			PrivateKey: append([]byte(nil), params.PrivateKey...),
			Passphrase: params.Passphrase,
			Password:   params.Password,
		}
		p.mu.Unlock()
	}

	return sess, nil
}

// evictIfSame removes creds[key] only if it still points at the exact
// record that was used for this attempt, avoiding evicting a different
// credential installed by a racing connect between the attempt and now.
func (p *Pool) evictIfSame(key cachekey.Key, used *CachedCredential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.creds[key] == used {
		delete(p.creds, key)
	}
}

// Relinquish hands a session back to the pool per mode. ModeDrop, or
// ModeKeep on a non-reusable session, closes it outright. ModeKeep installs
// it under its plain key with keepTTL (12h by default). ModeShare assigns
// (or reuses) a share key, installs the session under the extended key
// with shareTTL (5s by default), and returns the share key.
func (p *Pool) Relinquish(params protocol.ReuseParams, sess *sshadapter.Session, mode RelinquishMode) (string, error) {
	if mode == ModeDrop || (mode == ModeKeep && !sess.Reusable()) {
		return "", sess.Close()
	}

	base := cachekey.New(params.Username, params.Hostname, params.Port)

	var key cachekey.Any
	var ttl time.Duration
	var shareKey string

	switch mode {
	case ModeKeep:
		key = base
		ttl = p.keepTTL
	case ModeShare:
		if sess.ShareKey == "" {
			sk, err := cachekey.NewShareKey(p.random)
			if err != nil {
				return "", err
			}
			sess.ShareKey = sk
		}
		shareKey = sess.ShareKey
		key = cachekey.Extended{Key: base, ShareKey: shareKey}
		ttl = p.shareTTL
	default:
		return "", fmt.Errorf("pool: unknown relinquish mode %d", mode)
	}

	sess.SetObserver(&idleObserver{pool: p, key: key, session: sess})

	p.mu.Lock()
	if existing, ok := p.idle[key]; ok {
		existing.timer.Stop()
		if existing.session != sess {
			existing.session.Close()
		}
	}

	e := &entry{session: sess, key: key}
	timer := p.clock.AfterFunc(ttl, func() { p.expire(key, sess) })
	e.timer = timer
	e.deadline = p.clock.Now().Add(ttl)
	p.idle[key] = e
	p.mu.Unlock()

	return shareKey, nil
}

// idleObserver is the sshadapter.Observer bound to a session while it sits
// idle in the pool. Only Disconnected can fire here — a keepalive failure —
// since nothing drives exec or handshake events against an idle session;
// it evicts the cache entry so a later Reuse doesn't hand out a dead
// connection rather than waiting for the retention timer to notice.
type idleObserver struct {
	pool    *Pool
	key     cachekey.Any
	session *sshadapter.Session
}

func (o *idleObserver) Challenge(string, string, string, []string) {}
func (o *idleObserver) Banner(string)                              {}
func (o *idleObserver) Connected(string, string)                   {}
func (o *idleObserver) Unconnected(string)                         {}
func (o *idleObserver) Stdout([]byte)                              {}
func (o *idleObserver) Stderr([]byte)                              {}
func (o *idleObserver) Result(protocol.Result)                     {}

func (o *idleObserver) Disconnected(reason string) {
	o.pool.mu.Lock()
	if e, ok := o.pool.idle[o.key]; ok && e.session == o.session {
		e.timer.Stop()
		delete(o.pool.idle, o.key)
	}
	o.pool.mu.Unlock()
}

// expire evicts and closes a session whose retention timer fired without a
// Reuse claiming it first.
func (p *Pool) expire(key cachekey.Any, sess *sshadapter.Session) {
	p.mu.Lock()
	e, ok := p.idle[key]
	if ok && e.session == sess {
		delete(p.idle, key)
	}
	p.mu.Unlock()
	if ok {
		sess.Close()
	}
}

// Clear drains all idle sessions, relinquishing each with drop. Called on
// daemon shutdown.
func (p *Pool) Clear() {
	p.mu.Lock()
	entries := make([]*entry, 0, len(p.idle))
	for k, e := range p.idle {
		e.timer.Stop()
		entries = append(entries, e)
		delete(p.idle, k)
	}
	p.mu.Unlock()

	for _, e := range entries {
		if err := e.session.Close(); err != nil {
			slog.Warn("pool: error closing idle session during clear", slog.String("error", err.Error()))
		}
	}
}
