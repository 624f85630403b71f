package xwalk

import "time"

// Clock is the time source used by the Supervisor and Router. Restart timing
// goes exclusively through AfterFunc so tests can drive it deterministically.
// AfterFunc must not call f before it returns.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call from firing. It reports false if the call has
	// already fired or been stopped.
	Stop() bool
}

// SystemClock is a Clock backed by package time.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// AfterFunc wraps time.AfterFunc.
func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
