// Package clock abstracts time progression so components driven by timers
// (the monitor loop, rate limiting) can be tested deterministically.
package clock

import "time"

// Clock provides the two time operations the gateway's timed loops need.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock delegates to the standard library for production use.
type RealClock struct{}

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// After relays to time.After for real scheduling.
func (RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
