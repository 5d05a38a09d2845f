package scheduler

import "time"

// Clock abstracts time so slot transitions and missed-run recovery can be
// driven by a simulated clock in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the production Clock backed by the time package.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (SystemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
