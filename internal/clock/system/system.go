// Package system provides the wall clock used for job timestamps.
package system

import "time"

// Clock returns UTC time truncated to a fixed precision, so timestamps
// survive a JSON round trip through the job store unchanged.
type Clock struct {
	precision time.Duration
}

// New creates a Clock with millisecond precision.
func New() *Clock {
	return &Clock{precision: time.Millisecond}
}

// WithPrecision creates a Clock truncating to p. Zero keeps full precision.
func WithPrecision(p time.Duration) *Clock {
	return &Clock{precision: p}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	now := time.Now().UTC()
	if c.precision > 0 {
		now = now.Truncate(c.precision)
	}
	return now
}
