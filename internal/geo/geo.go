package geo

import (
	"math"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances
const EarthRadiusKm = 6371.0

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func finite(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

// HaversineKm returns the great-circle distance in kilometers
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// Lerp linearly interpolates between start and end
func Lerp(start, end, progress float64) float64 {
	return start + (end-start)*progress
}

// LerpOptional interpolates two optional values. If either side is missing
// the result snaps to end.
func LerpOptional(start, end *float64, progress float64) *float64 {
	if !finite(start) || !finite(end) {
		if end == nil {
			return nil
		}
		v := *end
		return &v
	}
	v := Lerp(*start, *end, progress)
	return &v
}

// NormalizeHeading wraps a heading into [0, 360)
func NormalizeHeading(heading float64) float64 {
	h := math.Mod(heading, 360)
	if h < 0 {
		h += 360
	}
	// -0 and values like -1e-15 + 360 must not escape the range
	if h >= 360 {
		h -= 360
	}
	return h
}

// HeadingDelta returns the shortest signed turn from start to end, in [-180, 180)
func HeadingDelta(start, end float64) float64 {
	return NormalizeHeading(end-start+540) - 180
}

// InterpolateHeading turns from start towards end along the shortest arc.
// When either heading is missing it snaps to end, falling back to start and
// then to north.
func InterpolateHeading(start, end *float64, progress float64) float64 {
	if !finite(start) || !finite(end) {
		switch {
		case finite(end):
			return NormalizeHeading(*end)
		case finite(start):
			return NormalizeHeading(*start)
		default:
			return 0
		}
	}
	return NormalizeHeading(*start + HeadingDelta(*start, *end)*progress)
}
