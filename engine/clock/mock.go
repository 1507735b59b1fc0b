package clock

import (
	"fmt"
	"sync"
	"time"
)

// Mock implements Clock with manually advanced time.
type Mock struct {
	mu      sync.RWMutex
	time    time.Time
	tickers map[*mockTicker]struct{}
}

var _ Clock = &Mock{}

// NewMock returns a mocked instance of a Clock.
func NewMock() *Mock {
	return &Mock{
		tickers: map[*mockTicker]struct{}{},
	}
}

// Set adjusts the current time. Time can only move forward.
func (m *Mock) Set(now time.Time) {
	m.mu.Lock()
	m.set(now)
	m.mu.Unlock()
}

func (m *Mock) set(now time.Time) {
	start := m.time

	if diff := now.Sub(start); diff < 0 {
		panic(fmt.Sprintf("mock clock cannot move backwards: %s", diff))
	}

	m.time = now

	for ticker := range m.tickers {
		for ts := ticker.getStart().Add(ticker.getInterval()); !ts.After(now) && !ticker.isStopped(); ts = ts.Add(ticker.getInterval()) {
			ticker.send(ts)
		}
	}
}

// Add advances the current time by d and returns the new time.
func (m *Mock) Add(d time.Duration) time.Time {
	m.mu.Lock()
	ts := m.time.Add(d)
	m.set(ts)
	m.mu.Unlock()

	return ts
}

// Now implements the Clock interface.
func (m *Mock) Now() time.Time {
	m.mu.RLock()
	ts := m.time
	m.mu.RUnlock()

	return ts
}

// Since implements the Clock interface.
func (m *Mock) Since(ts time.Time) time.Duration {
	return m.Now().Sub(ts)
}

// NewTicker implements the Clock interface.
func (m *Mock) NewTicker(d time.Duration) Ticker {
	return &tickerWrapper{
		mockTicker: m.newTicker(d, false),
	}
}

// NewTimer implements the Clock interface.
func (m *Mock) NewTimer(d time.Duration) Timer {
	return m.newTicker(d, true)
}

func (m *Mock) newTicker(d time.Duration, once bool) *mockTicker {
	m.mu.Lock()

	ticker := &mockTicker{
		once:  once,
		c:     make(chan time.Time, 1),
		d:     d,
		mock:  m,
		start: m.time,
	}
	m.tickers[ticker] = struct{}{}

	m.mu.Unlock()

	return ticker
}

// tickerWrapper hides the boolean return value of mockTicker.Stop so that the
// type satisfies Ticker.
type tickerWrapper struct {
	*mockTicker
}

func (t *tickerWrapper) Stop() {
	t.mockTicker.Stop()
}

type mockTicker struct {
	// once is true when this mock represents a Timer, which stops after the
	// first fire.
	once bool
	// mock is used for reading the current time when resetting.
	mock *Mock
	// mu protects d, start and stopped.
	mu      sync.Mutex
	d       time.Duration
	start   time.Time
	stopped bool
	c       chan time.Time
}

// C implements the Ticker and Timer interfaces.
func (m *mockTicker) C() <-chan time.Time {
	return m.c
}

func (m *mockTicker) getStart() time.Time {
	m.mu.Lock()
	start := m.start
	m.mu.Unlock()

	return start
}

func (m *mockTicker) getInterval() time.Duration {
	m.mu.Lock()
	d := m.d
	m.mu.Unlock()

	return d
}

func (m *mockTicker) send(ts time.Time) {
	m.mu.Lock()

	select {
	case m.c <- ts:
	default:
	}

	if m.once {
		m.stopped = true
	}

	m.start = ts

	m.mu.Unlock()
}

// Stop implements the Ticker and Timer interfaces.
func (m *mockTicker) Stop() bool {
	m.mu.Lock()
	justStopped := !m.stopped
	m.stopped = true
	m.mu.Unlock()

	return justStopped
}

func (m *mockTicker) isStopped() bool {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()

	return stopped
}

// Reset implements the Ticker and Timer interfaces.
func (m *mockTicker) Reset(d time.Duration) {
	now := m.mock.Now()

	m.mu.Lock()
	m.start = now
	m.d = d
	m.stopped = false
	m.mu.Unlock()
}
