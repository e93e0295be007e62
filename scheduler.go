package courier

import "time"

// Scheduler abstracts one-shot timers so the typing debounce and call ring
// timeout can be driven by a fake clock in tests.
type Scheduler interface {
	// After runs fn once after d. The returned function cancels the timer;
	// cancelling after fn has fired is a no-op.
	After(d time.Duration, fn func()) (cancel func())
	// Now returns the current time.
	Now() time.Time
}

type wallScheduler struct{}

// NewScheduler returns the wall-clock Scheduler used outside tests.
func NewScheduler() Scheduler {
	return wallScheduler{}
}

func (wallScheduler) After(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

func (wallScheduler) Now() time.Time {
	return time.Now()
}
