// Package system provides the wall clock used to stamp probe results and cycle reports.
package system

import "time"

// Clock returns UTC wall-clock time.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC, truncated to milliseconds so persisted
// check times round-trip through JSON and SQL columns unchanged.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// Since reports the elapsed time from t.
func (c Clock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}
