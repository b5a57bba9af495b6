package markers

import (
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/cloudradar/livemap/internal/flight"
)

// Input describes one marker to draw
type Input struct {
	Item        flight.Item
	Selected    bool
	Zoom        float64
	Static      bool
	DebugHitbox bool
}

// Key is the visual identity of a marker. Heading is not part of it since
// the client rotates the glyph itself.
type Key struct {
	MilitaryHint bool
	Fleet        flight.FleetType
	Airframe     flight.AirframeType
	Size         flight.AircraftSize
	Selected     bool
	Static       bool
	Zoom         int
	DebugHitbox  bool
}

// KeyFor derives the cache key of an input
func KeyFor(in Input) Key {
	return Key{
		MilitaryHint: in.Item.MilitaryHint != nil && *in.Item.MilitaryHint,
		Fleet:        in.Item.FleetType,
		Airframe:     in.Item.AirframeType,
		Size:         in.Item.AircraftSize,
		Selected:     in.Selected,
		Static:       in.Static,
		Zoom:         int(math.Round(in.Zoom)),
		DebugHitbox:  in.DebugHitbox,
	}
}

// ID renders the key as a stable identifier clients can cache icons under
func (k Key) ID() string {
	parts := []string{
		orUnknown(string(k.Fleet)),
		orUnknown(string(k.Airframe)),
		orUnknown(string(k.Size)),
		"z" + strconv.Itoa(k.Zoom),
	}
	if k.MilitaryHint {
		parts = append(parts, "mil")
	}
	if k.Selected {
		parts = append(parts, "sel")
	}
	if k.Static {
		parts = append(parts, "static")
	}
	if k.DebugHitbox {
		parts = append(parts, "debug")
	}
	return strings.Join(parts, "-")
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// Icon is a ready-to-place marker descriptor
type Icon struct {
	ClassName string  `json:"className"`
	Size      int     `json:"size"`
	HitSize   int     `json:"hitSize"`
	Anchor    [2]int  `json:"anchor"`
	Opacity   float64 `json:"opacity"`
	Color     string  `json:"color"`
	Stroke    string  `json:"stroke"`
	HTML      string  `json:"html"`
}

// BuildFunc builds the icon for a key
type BuildFunc func(Key) (*Icon, error)

// BuildIcon is the default builder
func BuildIcon(key Key) (*Icon, error) {
	size := GlyphSize(key.Size, float64(key.Zoom))
	hit := HitSize(size)
	opacity := Opacity(key.Selected, key.Static)

	glyph, err := Glyph(key, size)
	if err != nil {
		return nil, err
	}

	html, err := wrap(wrapperData{
		HitSize:     hit,
		Size:        size,
		Opacity:     strconv.FormatFloat(opacity, 'f', 2, 64),
		Selected:    key.Selected,
		DebugHitbox: key.DebugHitbox,
		Glyph:       glyph,
	})
	if err != nil {
		return nil, err
	}

	anchor := round(float64(hit) / 2)
	return &Icon{
		ClassName: "aircraft-div-icon",
		Size:      size,
		HitSize:   hit,
		Anchor:    [2]int{anchor, anchor},
		Opacity:   opacity,
		Color:     Color(ShapeFor(key.MilitaryHint, key.Fleet)),
		Stroke:    Stroke(key.Selected),
		HTML:      html,
	}, nil
}

// Resolver memoizes icons by visual identity. The key space is a product of
// small enums and a zoom range, so entries are never evicted.
type Resolver struct {
	build BuildFunc
	cache map[Key]*Icon
	mutex sync.RWMutex
}

// NewResolver creates a resolver. A nil builder uses BuildIcon.
func NewResolver(build BuildFunc) *Resolver {
	if build == nil {
		build = BuildIcon
	}
	return &Resolver{
		build: build,
		cache: make(map[Key]*Icon),
	}
}

// Resolve returns the cached icon for the input, building it on first use
func (r *Resolver) Resolve(in Input) (*Icon, error) {
	key := KeyFor(in)

	r.mutex.RLock()
	icon, ok := r.cache[key]
	r.mutex.RUnlock()
	if ok {
		return icon, nil
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if icon, ok := r.cache[key]; ok {
		return icon, nil
	}

	icon, err := r.build(key)
	if err != nil {
		return nil, err
	}
	r.cache[key] = icon
	return icon, nil
}

// Len returns the number of cached icons
func (r *Resolver) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.cache)
}
