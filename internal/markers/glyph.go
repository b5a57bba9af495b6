package markers

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"text/template"

	"github.com/cloudradar/livemap/internal/flight"
)

// Glyphs are drawn pointing north in a 40x40 box centered on x=20.
const center = 20.0

type vertex struct {
	x, y float64
}

// outline mirrors the right-hand half of a shape around the center line.
// Points are listed from the nose down the right side.
func outline(right []vertex) []vertex {
	out := make([]vertex, 0, 2*len(right))
	for _, v := range right {
		out = append(out, vertex{center + v.x, v.y})
	}
	for i := len(right) - 1; i >= 0; i-- {
		v := right[i]
		if v.x == 0 {
			continue
		}
		out = append(out, vertex{center - v.x, v.y})
	}
	return out
}

func pathData(points []vertex) string {
	var b strings.Builder
	for i, p := range points {
		if i == 0 {
			b.WriteString("M ")
		} else {
			b.WriteString(" L ")
		}
		b.WriteString(num(p.x))
		b.WriteByte(' ')
		b.WriteString(num(p.y))
	}
	b.WriteString(" Z")
	return b.String()
}

// num prints coordinates without float noise such as 1.5999999999999999
func num(v float64) string {
	return strconv.FormatFloat(math.Round(v*1000)/1000, 'f', -1, 64)
}

func airplanePath(shape Shape, size flight.AircraftSize) string {
	s := sizeSpans(size)
	w, t := s.wing, s.tail

	var right []vertex
	switch shape {
	case ShapeMilitary:
		right = []vertex{
			{0, 3}, {2.8, 10.5}, {w + 0.4, 19.5}, {w - 2.6, 22.4}, {4.2, 20.8},
			{t + 1.7, 31.8}, {3.0, 35.4}, {2.1, 38},
		}
	case ShapePrivate:
		right = []vertex{
			{0, 4}, {1.6, 12}, {w - 1.8, 14}, {w - 1.4, 17.1}, {2.0, 16.4},
			{t, 28.5}, {1.8, 34}, {1.8, 38},
		}
	case ShapeRescue:
		right = []vertex{
			{0, 3.5}, {2.1, 11.5}, {w - 0.7, 16}, {w - 0.2, 19.1}, {2.7, 18.1},
			{t + 0.4, 30}, {2.4, 35}, {2.4, 38},
		}
	case ShapeUnknown:
		right = []vertex{
			{0, 4}, {2, 12}, {w - 0.6, 18}, {4, 22},
			{t + 0.8, 31}, {2, 36}, {0, 38},
		}
	default:
		right = []vertex{
			{0, 3}, {2.2, 12}, {w, 16.8}, {w - 0.9, 20.0}, {2.8, 18.8},
			{t, 31.2}, {t - 1.0, 35.4}, {2.4, 35.4}, {2.4, 38},
		}
	}

	return pathData(outline(right))
}

type glyphData struct {
	Size       int
	Color      string
	Stroke     string
	Outer      string
	OuterWidth float64
	InnerWidth float64
	ThinWidth  float64
	ThinOuter  float64
	Path       string
	Shape      Shape
	Helicopter bool
}

var glyphFuncs = template.FuncMap{"num": num}

var airplaneTemplate = template.Must(template.New("airplane").Funcs(glyphFuncs).Parse(
	`<svg viewBox="0 0 40 40" width="{{.Size}}" height="{{.Size}}" aria-hidden="true" shape-rendering="geometricPrecision">` +
		`<path d="{{.Path}}" fill="{{.Color}}" stroke="{{.Outer}}" stroke-width="{{num .OuterWidth}}" stroke-linejoin="round"/>` +
		`<path d="{{.Path}}" fill="none" stroke="{{.Stroke}}" stroke-width="{{num .InnerWidth}}" stroke-linejoin="round"/>` +
		`<circle cx="20" cy="13.7" r="1.2" fill="{{.Stroke}}" stroke="{{.Outer}}" stroke-width="0.6"/>` +
		`{{if eq .Shape "private"}}` +
		`<line x1="16.4" y1="8.4" x2="23.6" y2="8.4" stroke="{{.Stroke}}" stroke-width="1.3" stroke-linecap="round"/>` +
		`<line x1="20" y1="6.1" x2="20" y2="10.7" stroke="{{.Stroke}}" stroke-width="1.2" stroke-linecap="round"/>` +
		`{{else if eq .Shape "military"}}` +
		`<circle cx="13.4" cy="20.8" r="1.2" fill="{{.Stroke}}" stroke="{{.Outer}}" stroke-width="0.7"/>` +
		`<circle cx="26.6" cy="20.8" r="1.2" fill="{{.Stroke}}" stroke="{{.Outer}}" stroke-width="0.7"/>` +
		`{{else if eq .Shape "rescue"}}` +
		`<rect x="18" y="15" width="4" height="10" rx="1" fill="{{.Stroke}}" stroke="{{.Outer}}" stroke-width="0.7"/>` +
		`<rect x="15" y="18" width="10" height="4" rx="1" fill="{{.Stroke}}" stroke="{{.Outer}}" stroke-width="0.7"/>` +
		`{{else if eq .Shape "commercial"}}` +
		`<circle cx="20" cy="15.4" r="1.5" fill="{{.Stroke}}" stroke="{{.Outer}}" stroke-width="0.7"/>` +
		`{{end}}` +
		`</svg>`))

const rotorBody = `M20 8.8 C23.8 8.8 26.3 11.2 26.3 15.4 L26.3 19.5 C26.3 23.8 23.9 27 20 27 C16.1 27 13.7 23.8 13.7 19.5 L13.7 15.4 C13.7 11.2 16.2 8.8 20 8.8 Z`

var helicopterTemplate = template.Must(template.New("helicopter").Funcs(glyphFuncs).Parse(
	`<svg viewBox="0 0 40 40" width="{{.Size}}" height="{{.Size}}" aria-hidden="true" shape-rendering="geometricPrecision">` +
		`<rect x="6" y="9.6" width="28" height="2.8" rx="1.4" fill="{{.Color}}" stroke="{{.Outer}}" stroke-width="{{num .OuterWidth}}"/>` +
		`<rect x="6" y="9.6" width="28" height="2.8" rx="1.4" fill="none" stroke="{{.Stroke}}" stroke-width="{{num .InnerWidth}}"/>` +
		`<path d="` + rotorBody + `" fill="{{.Color}}" stroke="{{.Outer}}" stroke-width="{{num .OuterWidth}}"/>` +
		`<path d="` + rotorBody + `" fill="none" stroke="{{.Stroke}}" stroke-width="{{num .InnerWidth}}"/>` +
		`<path d="M20 26.6 L20 34.6" stroke="{{.Outer}}" stroke-width="{{num .OuterWidth}}" stroke-linecap="round"/>` +
		`<path d="M20 26.6 L20 34.6" stroke="{{.Stroke}}" stroke-width="{{num .InnerWidth}}" stroke-linecap="round"/>` +
		`<circle cx="20" cy="35.8" r="2.1" fill="{{.Color}}" stroke="{{.Outer}}" stroke-width="{{num .ThinOuter}}"/>` +
		`<line x1="16.8" y1="35.8" x2="23.2" y2="35.8" stroke="{{.Stroke}}" stroke-width="{{num .ThinWidth}}" stroke-linecap="round"/>` +
		`<line x1="20" y1="32.6" x2="20" y2="39" stroke="{{.Stroke}}" stroke-width="{{num .ThinWidth}}" stroke-linecap="round"/>` +
		`{{if eq .Shape "rescue"}}` +
		`<rect x="17.4" y="15.6" width="5.2" height="9.4" rx="1.2" fill="{{.Stroke}}" stroke="{{.Outer}}" stroke-width="0.7"/>` +
		`<rect x="15.3" y="17.7" width="9.4" height="5.2" rx="1.2" fill="{{.Stroke}}" stroke="{{.Outer}}" stroke-width="0.7"/>` +
		`{{end}}` +
		`</svg>`))

type wrapperData struct {
	HitSize     int
	Size        int
	Opacity     string
	Selected    bool
	DebugHitbox bool
	Glyph       string
}

// Heading is applied by the client on the rotator element, never baked in here.
var wrapperTemplate = template.Must(template.New("marker").Parse(
	`<div class="aircraft-hitbox{{if .DebugHitbox}} is-debug{{end}}" style="width: {{.HitSize}}px; height: {{.HitSize}}px">` +
		`<div class="aircraft-marker{{if .Selected}} marker-pulse{{end}}" style="width: {{.Size}}px; height: {{.Size}}px; opacity: {{.Opacity}}">` +
		`<div class="aircraft-rotator">{{.Glyph}}</div>` +
		`</div>` +
		`</div>`))

// Glyph renders the SVG body for a key at the given pixel size
func Glyph(key Key, size int) (string, error) {
	shape := ShapeFor(key.MilitaryHint, key.Fleet)

	data := glyphData{
		Size:       size,
		Color:      Color(shape),
		Stroke:     Stroke(key.Selected),
		Outer:      StrokeOuter,
		OuterWidth: 3.1,
		InnerWidth: 1.9,
		Shape:      shape,
		Helicopter: key.Airframe == flight.AirframeHelicopter,
	}
	if key.Selected {
		data.OuterWidth = 3.8
		data.InnerWidth = 2.4
	}
	data.ThinWidth = data.InnerWidth - 0.3
	data.ThinOuter = data.OuterWidth - 0.3

	tmpl := airplaneTemplate
	if data.Helicopter {
		tmpl = helicopterTemplate
	} else {
		data.Path = airplanePath(shape, key.Size)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s glyph: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

func wrap(data wrapperData) (string, error) {
	var buf bytes.Buffer
	if err := wrapperTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render marker: %w", err)
	}
	return buf.String(), nil
}
