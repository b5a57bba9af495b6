package track

import (
	"sort"

	"github.com/cloudradar/livemap/internal/flight"
)

const (
	// FallbackWindow is how far back the current leg reaches when no takeoff is found
	FallbackWindow = 6 * 60 * 60 // seconds
	// MaxPointGap splits a polyline when consecutive samples are further apart
	MaxPointGap = 15 * 60 // seconds
)

// LatLon is one polyline vertex
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Polyline is an ordered run of vertices
type Polyline []LatLon

// Segments splits a track into the current leg and everything before it
type Segments struct {
	Current    []Polyline `json:"current"`
	Historical []Polyline `json:"historical"`
}

type sample struct {
	lat, lon float64
	epoch    float64
	onGround *bool
}

// Segment orders a flight's recent track and splits it into polylines.
//
// The current leg starts at the most recent takeoff, meaning an airborne sample
// directly after an on-ground one. Without a takeoff it covers the last six
// hours of the track. Runs break wherever samples are more than fifteen
// minutes apart and only runs of two or more samples are kept.
func Segment(points []flight.TrackPoint) Segments {
	samples := make([]sample, 0, len(points))
	for _, p := range points {
		if !flight.Finite(p.Lat) || !flight.Finite(p.Lon) || !flight.Finite(p.LastSeen) {
			continue
		}
		samples = append(samples, sample{lat: *p.Lat, lon: *p.Lon, epoch: *p.LastSeen, onGround: p.OnGround})
	}

	out := Segments{Current: []Polyline{}, Historical: []Polyline{}}
	if len(samples) < 2 {
		return out
	}

	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].epoch < samples[j].epoch
	})

	windowStart := samples[len(samples)-1].epoch - FallbackWindow
	for i := len(samples) - 1; i > 0; i-- {
		prev, cur := samples[i-1], samples[i]
		if isTrue(prev.onGround) && isFalse(cur.onGround) {
			windowStart = cur.epoch
			break
		}
	}

	var current, historical []sample
	for _, s := range samples {
		if s.epoch >= windowStart {
			current = append(current, s)
		} else {
			historical = append(historical, s)
		}
	}

	out.Current = split(current)
	out.Historical = split(historical)
	return out
}

func split(samples []sample) []Polyline {
	lines := []Polyline{}
	var line Polyline

	flush := func() {
		if len(line) >= 2 {
			lines = append(lines, line)
		}
		line = nil
	}

	for i, s := range samples {
		if i > 0 && s.epoch-samples[i-1].epoch > MaxPointGap {
			flush()
		}
		line = append(line, LatLon{Lat: s.lat, Lon: s.lon})
	}
	flush()

	return lines
}

func isTrue(v *bool) bool  { return v != nil && *v }
func isFalse(v *bool) bool { return v != nil && !*v }
