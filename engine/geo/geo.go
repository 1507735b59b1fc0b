// Package geo implements the position and distance model shared by the audio
// rolloff calculation and the nearby-participant queries. Both work on the
// same degrees-to-meters conversion of coordinate differences so that audible
// attenuation and on-screen distance labels never disagree.
package geo

import "math"

// EarthRadiusMeters is the fixed earth radius used by Distance.
const EarthRadiusMeters = 6371000

// Position is a pair of geographic coordinates in degrees.
type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid returns true when both coordinates are finite numbers. Updates
// carrying non-finite values must be rejected before they reach any state.
func (p Position) Valid() bool {
	return isFinite(p.Lat) && isFinite(p.Lng)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Offset is a planar offset in meters: DX east, DY north.
type Offset struct {
	DX float64
	DY float64
}

// Length returns the scalar length of the offset in meters.
func (o Offset) Length() float64 {
	return math.Hypot(o.DX, o.DY)
}

// Distance returns the great-circle distance between a and b in meters using
// the haversine formula. It is a pure function: identical inputs always yield
// identical outputs. Callers must validate positions first.
func Distance(a, b Position) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)

	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng

	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// RelativeOffset returns the planar offset of source relative to origin in
// meters. It uses a local equirectangular approximation, which is sufficient
// for the short ranges spatialization operates on; no projection correction
// is applied.
func RelativeOffset(source, origin Position) Offset {
	midLat := radians((source.Lat + origin.Lat) / 2)

	return Offset{
		DX: radians(source.Lng-origin.Lng) * EarthRadiusMeters * math.Cos(midLat),
		DY: radians(source.Lat-origin.Lat) * EarthRadiusMeters,
	}
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
