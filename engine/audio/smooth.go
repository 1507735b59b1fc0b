package audio

import (
	"math"
	"time"
)

// smoothedValue approaches its target exponentially with time constant tau,
// the same ramp shape audio parameter APIs use for click-free retuning. It is
// not safe for concurrent use; callers serialize access under the output
// lock.
type smoothedValue struct {
	tau     time.Duration
	current float64
	target  float64
	at      time.Time
}

func newSmoothedValue(tau time.Duration, initial float64, now time.Time) *smoothedValue {
	return &smoothedValue{
		tau:     tau,
		current: initial,
		target:  initial,
		at:      now,
	}
}

// valueAt returns the value the ramp has reached at the given instant.
func (v *smoothedValue) valueAt(now time.Time) float64 {
	if v.tau <= 0 {
		return v.target
	}

	dt := now.Sub(v.at)
	if dt <= 0 {
		return v.current
	}

	return v.target + (v.current-v.target)*math.Exp(-float64(dt)/float64(v.tau))
}

// setTarget freezes the ramp at its current value and restarts it toward
// target. Setting the same target repeatedly does not reset progress toward
// it in any audible way, since the frozen value is on the same curve.
func (v *smoothedValue) setTarget(target float64, now time.Time) {
	v.current = v.valueAt(now)
	v.at = now
	v.target = target
}
