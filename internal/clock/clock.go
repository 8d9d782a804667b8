package clock

import "time"

// Clock reports the current time. The limiter, dedup cache and engine read
// time only through a Clock so tests can drive it.
type Clock interface {
	Now() time.Time
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }
