package util

import "time"

// Clock is the time source used by the order lifecycle
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC
type SystemClock struct{}

// Now returns the current UTC time truncated to microseconds, the precision
// both supported databases keep
func (SystemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// FixedClock always returns the same instant until moved
type FixedClock struct {
	T time.Time
}

// Now returns the fixed instant
func (c *FixedClock) Now() time.Time {
	return c.T
}

// Advance moves the fixed clock forward
func (c *FixedClock) Advance(d time.Duration) {
	c.T = c.T.Add(d)
}
