// Package clock abstracts wall-clock time so the scheduler's three
// independent detection-tier tickers, and pkg/retry's backoff waits, can
// be driven deterministically in tests. Production wiring uses Real();
// tests use NewFakeClock and Advance to step time by hand instead of
// sleeping in wall-clock time.
package clock

import "time"

// Clock is the subset of time operations this agent depends on: reading
// the current time, waiting a bounded duration (pkg/retry's backoff),
// and running a periodic ticker (one per detection tier, see
// NewTierTickers).
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration

	// After waits for the duration to elapse and then sends the current
	// time. Used by pkg/retry to wait out a backoff between attempts.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a new Ticker containing a channel that will send
	// the current time after each tick. The scheduler holds one per
	// enabled detection tier.
	NewTicker(d time.Duration) Ticker
}

// Ticker wraps time.Ticker so the scheduler depends on an interface
// instead of a concrete stdlib type.
type Ticker interface {
	// C returns the channel on which ticks are delivered.
	C() <-chan time.Time

	// Stop turns off the ticker. After Stop, no more ticks will be sent.
	Stop()
}
