package engine

import "time"

// Timer is the cancellable handle returned by a Scheduler.
type Timer interface {
	Stop() bool
}

// Scheduler schedules a callback after a delay. Production code uses real
// timers; tests inject a fake so backoff sequences can be asserted without
// sleeping.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// NewScheduler returns the real-timer scheduler.
func NewScheduler() Scheduler {
	return realScheduler{}
}
