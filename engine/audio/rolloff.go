package audio

import (
	"math"

	"github.com/soundmap/soundmap/engine/geo"
)

// RolloffConfig holds the distance attenuation model tunables.
type RolloffConfig struct {
	// RefDistance is the distance in meters inside which a source plays at
	// full gain.
	RefDistance float64

	// MaxDistance is the distance in meters beyond which a source is silent.
	MaxDistance float64

	// Factor is the rolloff exponent. 1 is inverse-distance falloff.
	Factor float64
}

// Gain returns the attenuation for a source at the given distance in meters:
// 1 at or inside RefDistance, 0 at or beyond MaxDistance, and
// (RefDistance/distance)^Factor in between. Deterministic: same distance,
// same gain.
func (c RolloffConfig) Gain(distance float64) float64 {
	switch {
	case distance >= c.MaxDistance:
		return 0
	case distance <= c.RefDistance:
		return 1
	}

	return math.Pow(c.RefDistance/distance, c.Factor)
}

// panPosition maps a planar offset to a stereo pan position in [-1, 1].
// Sources within arm's reach stay centered; the pan widens linearly until the
// source is a reference distance away.
func panPosition(offset geo.Offset, refDistance float64) float64 {
	length := offset.Length()
	if length == 0 || refDistance <= 0 {
		return 0
	}

	spread := length / refDistance
	if spread > 1 {
		spread = 1
	}

	return clampPan(offset.DX / length * spread)
}

func clampPan(pan float64) float64 {
	switch {
	case pan < -1:
		return -1
	case pan > 1:
		return 1
	}

	return pan
}

func clampVolume(volume float64) float64 {
	switch {
	case volume < 0:
		return 0
	case volume > 1:
		return 1
	}

	return volume
}
