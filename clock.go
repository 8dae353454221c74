package voxgrid

import "time"

// Clock abstracts time.Now so staleness thresholds can be tested without
// real sleeps. The reaper, dispatcher, and memory store all take one.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now().UTC().
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ClockFunc adapts a plain function to the Clock interface.
type ClockFunc func() time.Time

// Now invokes the wrapped function.
func (f ClockFunc) Now() time.Time { return f() }
