package animation

import (
	"math"
	"sync"
	"time"

	"github.com/cloudradar/livemap/internal/flight"
	"github.com/cloudradar/livemap/internal/geo"
)

const (
	// MaxLastSeenGap is the largest last-seen gap that still interpolates
	MaxLastSeenGap = 180.0 // seconds
	// MaxDisplacementKm is the largest jump that still interpolates
	MaxDisplacementKm = 200.0

	MinDuration = 1 * time.Second
	MaxDuration = 20 * time.Second
)

// Eligible reports whether an aircraft may be interpolated from start to end.
// Ineligible aircraft snap straight to their target.
func Eligible(start, end flight.Item) bool {
	if !start.HasPosition() || !end.HasPosition() {
		return false
	}

	if flight.Finite(start.LastSeen) && flight.Finite(end.LastSeen) {
		gap := *end.LastSeen - *start.LastSeen
		if gap < 0 || gap > MaxLastSeenGap {
			return false
		}
	}

	return geo.HaversineKm(*start.Lat, *start.Lon, *end.Lat, *end.Lon) <= MaxDisplacementKm
}

// SelectDuration picks how long a transition between two batches lasts.
// The batch spacing is used when it moved forward, the refresh interval otherwise.
func SelectDuration(prev, next *int64, refreshInterval time.Duration) time.Duration {
	if prev != nil && next != nil && *next > *prev {
		return clamp(time.Duration(*next-*prev)*time.Second, MinDuration, MaxDuration)
	}
	return clamp(refreshInterval, MinDuration, MaxDuration)
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// Animator moves rendered markers from one snapshot to the next.
// Only one transition is active at a time; Start replaces any running one.
type Animator struct {
	mutex sync.Mutex

	starts    map[string]flight.Item
	targets   []flight.Item
	startedAt time.Time
	duration  time.Duration
	running   bool
	frame     []flight.Item
}

// New creates an idle animator
func New() *Animator {
	return &Animator{}
}

// Start begins a transition from the currently rendered frame to the target.
// The first frame is emitted on the next Tick.
func (a *Animator) Start(from, to []flight.Item, d time.Duration, now time.Time) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.starts = make(map[string]flight.Item, len(from))
	for _, item := range from {
		a.starts[item.ID] = item
	}
	a.targets = append([]flight.Item(nil), to...)
	a.startedAt = now
	a.duration = d
	a.running = true
}

// Tick advances the running transition to now and returns the frame to draw.
// done is true once the target has been reached or when nothing is running.
func (a *Animator) Tick(now time.Time) ([]flight.Item, bool) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.running {
		return a.frame, true
	}

	progress := 1.0
	if a.duration > 0 {
		progress = math.Min(1, float64(now.Sub(a.startedAt))/float64(a.duration))
	}
	if progress < 0 {
		progress = 0
	}

	if progress >= 1 {
		a.frame = a.targets
		a.finish()
		return a.frame, true
	}

	frame := make([]flight.Item, 0, len(a.targets))
	for _, target := range a.targets {
		start, ok := a.starts[target.ID]
		if !ok || !Eligible(start, target) {
			frame = append(frame, target)
			continue
		}
		frame = append(frame, Interpolate(start, target, progress))
	}
	a.frame = frame

	return a.frame, false
}

// Cancel stops the running transition and keeps the last emitted frame
func (a *Animator) Cancel() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.finish()
}

// Reset cancels any transition and replaces the current frame
func (a *Animator) Reset(frame []flight.Item) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.finish()
	a.frame = append([]flight.Item(nil), frame...)
}

func (a *Animator) finish() {
	a.running = false
	a.starts = nil
	a.targets = nil
}

// Running reports whether a transition is in progress
func (a *Animator) Running() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.running
}

// Frame returns the last emitted frame
func (a *Animator) Frame() []flight.Item {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.frame
}

// Interpolate blends one aircraft between start and end. Identity and
// classification come from end.
func Interpolate(start, end flight.Item, progress float64) flight.Item {
	out := end

	lat := geo.Lerp(*start.Lat, *end.Lat, progress)
	lon := geo.Lerp(*start.Lon, *end.Lon, progress)
	out.Lat = &lat
	out.Lon = &lon

	if start.Heading != nil || end.Heading != nil {
		heading := geo.InterpolateHeading(start.Heading, end.Heading, progress)
		out.Heading = &heading
	}

	out.Speed = geo.LerpOptional(start.Speed, end.Speed, progress)
	out.Altitude = geo.LerpOptional(start.Altitude, end.Altitude, progress)

	return out
}
