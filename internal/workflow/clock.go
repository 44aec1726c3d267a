package workflow

import "time"

// Clock abstracts time for ceiling checks (allows testing).
type Clock interface {
	Now() time.Time
}

// realClock implements Clock using the real time.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// NewClock returns a Clock backed by time.Now.
func NewClock() Clock { return realClock{} }

// CancelFunc cancels a scheduled callback. Cancellation takes effect
// synchronously: after it returns, the callback will not fire.
type CancelFunc func()

// Scheduler abstracts timer scheduling so the backoff and ceiling logic can
// be driven by a fake clock in tests.
type Scheduler interface {
	// Schedule runs fn after delay. The returned CancelFunc stops the timer;
	// it is a no-op if fn already ran.
	Schedule(delay time.Duration, fn func()) CancelFunc
}

// timerScheduler implements Scheduler on time.AfterFunc.
type timerScheduler struct{}

// NewScheduler returns the real timer-backed Scheduler.
func NewScheduler() Scheduler { return timerScheduler{} }

func (timerScheduler) Schedule(delay time.Duration, fn func()) CancelFunc {
	t := time.AfterFunc(delay, fn)
	return func() { t.Stop() }
}
