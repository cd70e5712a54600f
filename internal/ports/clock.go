// Package ports defines interfaces for external dependencies (Ports and Adapters pattern).
package ports

import "time"

// Clock abstracts time operations for testing.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep pauses execution for the specified duration.
	Sleep(d time.Duration)

	// After returns a channel that receives the current time after duration d.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a new Ticker that sends the current time on its channel
	// after each tick.
	NewTicker(d time.Duration) Ticker

	// AfterFunc waits for duration d to elapse and then calls f in its own
	// goroutine. It returns a Timer that can be used to cancel the call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Ticker wraps time.Ticker for testing.
type Ticker interface {
	// C returns the channel on which ticks are delivered.
	C() <-chan time.Time

	// Stop turns off the ticker.
	Stop()
}

// Timer wraps time.Timer for testing.
type Timer interface {
	// Stop prevents the Timer from firing. It reports whether the call
	// stopped the timer before it expired.
	Stop() bool
}
