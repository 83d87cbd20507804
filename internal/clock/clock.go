package clock

import "time"

// Clock hands out run-relative timestamps. time.Now carries a monotonic
// reading, so Since never goes backwards even if the wall clock is stepped.
type Clock struct {
	start time.Time
}

func New() Clock {
	return Clock{start: time.Now()}
}

// Start returns the wall-clock instant the clock was created.
func (c Clock) Start() time.Time {
	return c.start
}

// Now returns nanoseconds elapsed since the clock was created.
func (c Clock) Now() int64 {
	return int64(time.Since(c.start))
}

// Until returns how long to wait until the run-relative instant at.
func (c Clock) Until(at int64) time.Duration {
	return time.Duration(at - c.Now())
}

// SleepUntil blocks until the run-relative instant at or until done closes.
// It reports false if done closed first.
func (c Clock) SleepUntil(at int64, done <-chan struct{}) bool {
	d := c.Until(at)
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-done:
		return false
	}
}
