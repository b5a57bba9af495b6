package markers

import (
	"math"

	"github.com/cloudradar/livemap/internal/flight"
)

// Palette
const (
	ColorMilitary   = "#ff4b4b"
	ColorCommercial = "#45e7ff"
	ColorRescue     = "#7dff7a"
	ColorPrivate    = "#f8e16c"
	ColorUnknown    = "#a7bbd6"

	StrokeSelected = "#ffffff"
	StrokeDefault  = "#0a1722"
	StrokeOuter    = "#041320"
)

// Shape is the glyph family drawn for a fleet
type Shape string

const (
	ShapeCommercial Shape = "commercial"
	ShapeMilitary   Shape = "military"
	ShapeRescue     Shape = "rescue"
	ShapePrivate    Shape = "private"
	ShapeUnknown    Shape = "unknown"
)

// ShapeFor resolves the glyph family. A military hint overrides the fleet.
func ShapeFor(militaryHint bool, fleet flight.FleetType) Shape {
	if militaryHint || fleet == flight.FleetMilitary {
		return ShapeMilitary
	}
	switch fleet {
	case flight.FleetRescue:
		return ShapeRescue
	case flight.FleetCommercial:
		return ShapeCommercial
	case flight.FleetPrivate:
		return ShapePrivate
	default:
		return ShapeUnknown
	}
}

// Color returns the fill color of a glyph family
func Color(shape Shape) string {
	switch shape {
	case ShapeMilitary:
		return ColorMilitary
	case ShapeCommercial:
		return ColorCommercial
	case ShapeRescue:
		return ColorRescue
	case ShapePrivate:
		return ColorPrivate
	default:
		return ColorUnknown
	}
}

// Stroke returns the inner outline color
func Stroke(selected bool) string {
	if selected {
		return StrokeSelected
	}
	return StrokeDefault
}

// BaseSize is the glyph size in pixels at zoom 8
func BaseSize(size flight.AircraftSize) int {
	switch size {
	case flight.SizeSmall:
		return 16
	case flight.SizeMedium:
		return 20
	case flight.SizeLarge:
		return 24
	case flight.SizeHeavy:
		return 28
	default:
		return 19
	}
}

// ZoomScale grows markers as the map zooms in
func ZoomScale(zoom float64) float64 {
	return math.Min(1.75, math.Max(0.95, 1+(zoom-8)*0.13))
}

// Opacity dims stale markers unless they are selected
func Opacity(selected, static bool) float64 {
	if selected {
		return 1
	}
	if static {
		return 0.45
	}
	return 1
}

// GlyphSize returns the scaled glyph size, bumped to an even pixel count so
// the glyph centers on a whole pixel
func GlyphSize(size flight.AircraftSize, zoom float64) int {
	return even(round(float64(BaseSize(size)) * ZoomScale(zoom)))
}

// HitSize returns the clickable area around a glyph of the given size
func HitSize(glyph int) int {
	padding := max(6, round(float64(glyph)*0.24))
	return even(glyph + padding)
}

// round matches half-up rounding on positive values
func round(v float64) int {
	return int(math.Floor(v + 0.5))
}

func even(v int) int {
	if v%2 != 0 {
		return v + 1
	}
	return v
}

type spans struct {
	wing, tail, fuselageHalf float64
}

func sizeSpans(size flight.AircraftSize) spans {
	switch size {
	case flight.SizeSmall:
		return spans{wing: 7.8, tail: 3.8, fuselageHalf: 1.9}
	case flight.SizeLarge:
		return spans{wing: 12.6, tail: 6.0, fuselageHalf: 2.7}
	case flight.SizeHeavy:
		return spans{wing: 14.8, tail: 7.3, fuselageHalf: 3.2}
	case flight.SizeMedium:
		return spans{wing: 10.4, tail: 4.9, fuselageHalf: 2.2}
	default:
		return spans{wing: 9.3, tail: 4.3, fuselageHalf: 2.1}
	}
}
