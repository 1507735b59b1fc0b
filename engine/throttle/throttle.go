// Package throttle bounds the rate of applied position updates. Raw reports
// can arrive far more often than is useful for audio retuning or UI refresh;
// the throttler enforces a minimum interval per participant and coalesces
// intermediate reports into the newest value. It never averages: the latest
// position is the one that matters.
package throttle

import (
	"sync"
	"time"

	"github.com/soundmap/soundmap/engine/clock"
	"github.com/soundmap/soundmap/engine/geo"
	"github.com/soundmap/soundmap/engine/identifiers"
	"github.com/soundmap/soundmap/engine/logger"
)

// ApplyFunc receives the coalesced updates.
type ApplyFunc func(clientID identifiers.ClientID, position geo.Position)

// PositionThrottler coalesces per-participant position updates on the
// trailing edge of the interval, so a burst of reports inside one interval
// results in exactly one applied update carrying the last value.
type PositionThrottler struct {
	log      logger.Logger
	clk      clock.Clock
	interval time.Duration
	apply    ApplyFunc

	mu      sync.Mutex
	closed  bool
	pending map[identifiers.ClientID]geo.Position
	timers  map[identifiers.ClientID]clock.Timer
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewPositionThrottler creates a throttler delivering to apply at most once
// per interval per participant. apply is called from internal goroutines; it
// must be safe for concurrent use across different participants.
func NewPositionThrottler(log logger.Logger, clk clock.Clock, interval time.Duration, apply ApplyFunc) *PositionThrottler {
	return &PositionThrottler{
		log:      log.WithNamespaceAppended("throttle"),
		clk:      clk,
		interval: interval,
		apply:    apply,
		pending:  map[identifiers.ClientID]geo.Position{},
		timers:   map[identifiers.ClientID]clock.Timer{},
		done:     make(chan struct{}),
	}
}

// Push records a position report. The newest value for each participant is
// delivered when its interval elapses; earlier values inside the same
// interval are discarded.
func (p *PositionThrottler) Push(clientID identifiers.ClientID, position geo.Position) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return
	}

	p.pending[clientID] = position

	if _, scheduled := p.timers[clientID]; !scheduled {
		timer := p.clk.NewTimer(p.interval)
		p.timers[clientID] = timer

		p.wg.Add(1)

		go p.wait(clientID, timer)
	}

	p.mu.Unlock()
}

func (p *PositionThrottler) wait(clientID identifiers.ClientID, timer clock.Timer) {
	defer p.wg.Done()

	select {
	case <-timer.C():
	case <-p.done:
		timer.Stop()

		return
	}

	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return
	}

	position, ok := p.pending[clientID]
	delete(p.pending, clientID)
	delete(p.timers, clientID)

	p.mu.Unlock()

	if ok {
		p.apply(clientID, position)
	}
}

// Close stops all scheduled deliveries. Pending updates are dropped; the
// session is over and nothing downstream wants them.
func (p *PositionThrottler) Close() {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return
	}

	p.closed = true
	close(p.done)

	p.mu.Unlock()

	p.wg.Wait()
}
