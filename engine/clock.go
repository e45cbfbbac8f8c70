package engine

import "time"

// Clock is the process-wide wall-clock authority. The scheduler and every
// "due now" decision go through it so tests can control time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
