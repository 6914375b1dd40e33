package data

import "time"

// TimeProvider is the clock seam: the scheduler and the repositories take
// their notion of "now" from here so tests can drive time deterministically.
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider is the production clock.
type RealTimeProvider struct{}

// Now returns the current system time.
func (r *RealTimeProvider) Now() time.Time {
	return time.Now()
}
