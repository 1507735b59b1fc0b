package clock

import "time"

// Clock abstracts time so that components depending on timers and tickers can
// be tested deterministically with Mock.
type Clock interface {
	Now() time.Time
	Since(time.Time) time.Duration
	NewTicker(time.Duration) Ticker
	NewTimer(time.Duration) Timer
}

// Ticker delivers ticks on its channel at an interval.
type Ticker interface {
	C() <-chan time.Time
	Stop()
	Reset(time.Duration)
}

// Timer delivers a single tick after a duration has elapsed.
type Timer interface {
	C() <-chan time.Time
	// Stop prevents the timer from firing. It returns true when it stops the
	// timer, false when the timer has already fired or been stopped.
	Stop() bool
	Reset(time.Duration)
}

// New returns a Clock backed by real time.
func New() Clock {
	return realClock{}
}

type realClock struct{}

func (c realClock) Now() time.Time {
	return time.Now()
}

func (c realClock) Since(ts time.Time) time.Duration {
	return time.Since(ts)
}

func (c realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{
		ticker: time.NewTicker(d),
	}
}

func (c realClock) NewTimer(d time.Duration) Timer {
	return &realTimer{
		timer: time.NewTimer(d),
	}
}

type realTicker struct {
	ticker *time.Ticker
}

var _ Ticker = &realTicker{}

func (t *realTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t *realTicker) Stop() {
	t.ticker.Stop()
}

func (t *realTicker) Reset(d time.Duration) {
	t.ticker.Reset(d)
}

type realTimer struct {
	timer *time.Timer
}

var _ Timer = &realTimer{}

func (t *realTimer) C() <-chan time.Time {
	return t.timer.C
}

func (t *realTimer) Stop() bool {
	return t.timer.Stop()
}

func (t *realTimer) Reset(d time.Duration) {
	t.timer.Reset(d)
}
