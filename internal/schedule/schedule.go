// Package schedule hides timer creation behind a small interface so that
// code racing two timers can be driven by a virtual clock in tests.
package schedule

import "time"

type Timer interface {
	// Stop prevents the callback from running. It reports false if the
	// callback already ran or the timer was already stopped.
	Stop() bool
}

type Scheduler interface {
	Schedule(delay time.Duration, fn func()) Timer
	Now() time.Time
}

// Real schedules callbacks on the runtime timer heap.
type Real struct{}

func (Real) Schedule(delay time.Duration, fn func()) Timer {
	return time.AfterFunc(delay, fn)
}

func (Real) Now() time.Time {
	return time.Now()
}
