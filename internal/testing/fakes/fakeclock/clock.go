// Package fakeclock provides a controllable Clock implementation for testing.
package fakeclock

import (
	"sync"
	"time"

	"github.com/acolita/ssh-bridge/internal/ports"
)

// Clock is a fake clock that can be controlled in tests.
type Clock struct {
	mu      sync.Mutex
	current time.Time
	waiters []waiter
	timers  []*fakeTimer
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// New creates a new fake clock initialized to the given time.
func New(initial time.Time) *Clock {
	return &Clock{current: initial}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Sleep is a no-op in fake clock (returns immediately).
// Use Advance() to simulate time passing.
func (c *Clock) Sleep(d time.Duration) {
	// In tests, Sleep returns immediately.
	// The test controls time via Advance().
}

// After returns a channel that receives the time after duration d.
// The channel fires when Advance() is called past the deadline.
func (c *Clock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	deadline := c.current.Add(d)

	// If already past deadline, fire immediately
	if !c.current.Before(deadline) {
		ch <- c.current
		return ch
	}

	c.waiters = append(c.waiters, waiter{deadline: deadline, ch: ch})
	return ch
}

// NewTicker returns a fake ticker.
func (c *Clock) NewTicker(d time.Duration) ports.Ticker {
	return &fakeTicker{
		clock:    c,
		interval: d,
		ch:       make(chan time.Time, 1),
		stopped:  false,
	}
}

// Advance moves the clock forward by duration d, firing any waiters and due
// AfterFunc timers.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	now := c.current

	// Find and fire expired waiters
	var remaining []waiter
	for _, w := range c.waiters {
		if !now.Before(w.deadline) {
			select {
			case w.ch <- now:
			default:
			}
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining

	due := c.dueTimersLocked(now)
	c.mu.Unlock()

	for _, t := range due {
		go t.fn()
	}
}

// dueTimersLocked removes and returns timers that are due and not yet
// stopped or fired, marking them fired. Callers must hold c.mu.
func (c *Clock) dueTimersLocked(now time.Time) []*fakeTimer {
	var due []*fakeTimer
	var remaining []*fakeTimer
	for _, t := range c.timers {
		t.mu.Lock()
		switch {
		case t.stopped || t.fired:
			// drop
		case !now.Before(t.deadline):
			t.fired = true
			due = append(due, t)
		default:
			remaining = append(remaining, t)
		}
		t.mu.Unlock()
	}
	c.timers = remaining
	return due
}

// Set sets the clock to a specific time.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// AfterFunc schedules f to run once Advance carries the clock to or past
// d from now (Set fires nothing), in its own goroutine, same as
// time.AfterFunc. The returned
// Timer's Stop cancels it if it hasn't fired yet.
func (c *Clock) AfterFunc(d time.Duration, f func()) ports.Timer {
	c.mu.Lock()
	deadline := c.current.Add(d)
	t := &fakeTimer{clock: c, deadline: deadline, fn: f}
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	return t
}

// fakeTimer is a fakeclock-scheduled ports.Timer backing AfterFunc.
type fakeTimer struct {
	clock    *Clock
	deadline time.Time
	fn       func()

	mu      sync.Mutex
	stopped bool
	fired   bool
}

// Stop reports whether it prevented the timer from firing.
func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	already := t.stopped || t.fired
	t.stopped = true
	return !already
}

// fakeTicker is a fake ticker for testing.
type fakeTicker struct {
	clock    *Clock
	interval time.Duration
	ch       chan time.Time
	stopped  bool
	mu       sync.Mutex
}

// C returns the channel on which ticks are delivered.
func (t *fakeTicker) C() <-chan time.Time {
	return t.ch
}

// Stop turns off the ticker.
func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

// Tick manually sends a tick (for test control).
func (t *fakeTicker) Tick() {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()

	if !stopped {
		select {
		case t.ch <- t.clock.Now():
		default:
		}
	}
}

// Ensure Clock implements ports.Clock.
var _ ports.Clock = (*Clock)(nil)
