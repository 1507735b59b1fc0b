package audio

import (
	"github.com/faiface/beep"
	"github.com/soundmap/soundmap/engine/atomic"
)

// gate makes a streamer removable from a running mixer without holding the
// output lock: once closed it reports drained, and the mixer drops it on the
// next pull.
type gate struct {
	streamer beep.Streamer
	closed   atomic.Bool
}

func newGate(streamer beep.Streamer) *gate {
	return &gate{
		streamer: streamer,
	}
}

func (g *gate) Stream(samples [][2]float64) (int, bool) {
	if g.closed.Get() {
		return 0, false
	}

	return g.streamer.Stream(samples)
}

func (g *gate) Err() error {
	if g.closed.Get() {
		return nil
	}

	return g.streamer.Err()
}

// Close marks the gate drained. Safe to call multiple times and from any
// goroutine.
func (g *gate) Close() {
	g.closed.Set(true)
}
