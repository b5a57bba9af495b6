package markers

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudradar/livemap/internal/flight"
)

func fixture(heading float64) flight.Item {
	callsign := "AFR123"
	military := false
	return flight.Item{
		ID:           "abc123",
		Callsign:     &callsign,
		Lat:          flight.Float(48.8566),
		Lon:          flight.Float(2.3522),
		Heading:      flight.Float(heading),
		LastSeen:     flight.Float(1_700_000_000),
		Speed:        flight.Float(200),
		Altitude:     flight.Float(10000),
		MilitaryHint: &military,
		AirframeType: flight.AirframeAirplane,
		FleetType:    flight.FleetCommercial,
		AircraftSize: flight.SizeMedium,
	}
}

type countingBuilder struct {
	calls int
}

func (c *countingBuilder) build(key Key) (*Icon, error) {
	c.calls++
	return BuildIcon(key)
}

func TestResolverReusesIconAcrossHeadings(t *testing.T) {
	builder := &countingBuilder{}
	r := NewResolver(builder.build)

	first, err := r.Resolve(Input{Item: fixture(10), Zoom: 8})
	require.NoError(t, err)
	second, err := r.Resolve(Input{Item: fixture(220), Zoom: 8})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, builder.calls)
	assert.Contains(t, first.HTML, "aircraft-rotator")
	assert.NotContains(t, first.HTML, "rotate(")
}

func TestResolverBuildsNewIconWhenIdentityChanges(t *testing.T) {
	builder := &countingBuilder{}
	r := NewResolver(builder.build)

	plain, err := r.Resolve(Input{Item: fixture(0), Zoom: 8})
	require.NoError(t, err)
	selected, err := r.Resolve(Input{Item: fixture(0), Zoom: 8, Selected: true})
	require.NoError(t, err)

	assert.NotSame(t, plain, selected)
	assert.Equal(t, 2, builder.calls)
	assert.Equal(t, 2, r.Len())
	assert.Contains(t, selected.HTML, "marker-pulse")
	assert.NotContains(t, plain.HTML, "marker-pulse")
}

func TestResolverZoomBuckets(t *testing.T) {
	builder := &countingBuilder{}
	r := NewResolver(builder.build)

	a, err := r.Resolve(Input{Item: fixture(0), Zoom: 8.2})
	require.NoError(t, err)
	b, err := r.Resolve(Input{Item: fixture(0), Zoom: 7.6})
	require.NoError(t, err)
	c, err := r.Resolve(Input{Item: fixture(0), Zoom: 9})
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, builder.calls)
}

func TestResolverPropagatesBuildErrors(t *testing.T) {
	r := NewResolver(func(Key) (*Icon, error) { return nil, errors.New("boom") })

	_, err := r.Resolve(Input{Item: fixture(0), Zoom: 8})
	assert.Error(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestKeyForIgnoresHeading(t *testing.T) {
	assert.Equal(t,
		KeyFor(Input{Item: fixture(0), Zoom: 8}),
		KeyFor(Input{Item: fixture(180), Zoom: 8}),
	)
	assert.NotEqual(t,
		KeyFor(Input{Item: fixture(0), Zoom: 8}),
		KeyFor(Input{Item: fixture(0), Zoom: 8, Static: true}),
	)
}

func TestBuildIconSizing(t *testing.T) {
	tests := []struct {
		name     string
		size     flight.AircraftSize
		zoom     int
		wantSize int
		wantHit  int
	}{
		// 20 * 1.0 = 20, padding max(6, 5) = 6
		{"medium at zoom 8", flight.SizeMedium, 8, 20, 26},
		// 19 * 0.95 = 18.05 -> 18, padding 6
		{"unknown clamps small", flight.SizeUnknown, 4, 18, 24},
		// 28 * 1.75 = 49 -> 50, padding 12 -> 62
		{"heavy clamps large", flight.SizeHeavy, 16, 50, 62},
		// 16 * 1.26 = 20.16 -> 20, padding 6
		{"small at zoom 10", flight.SizeSmall, 10, 20, 26},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			icon, err := BuildIcon(Key{Size: tt.size, Zoom: tt.zoom, Fleet: flight.FleetUnknown})
			require.NoError(t, err)
			assert.Equal(t, tt.wantSize, icon.Size)
			assert.Equal(t, tt.wantHit, icon.HitSize)
			assert.Equal(t, [2]int{tt.wantHit / 2, tt.wantHit / 2}, icon.Anchor)
			assert.Equal(t, 0, icon.HitSize%2)
		})
	}
}

func TestBuildIconAppearance(t *testing.T) {
	t.Run("military hint overrides fleet", func(t *testing.T) {
		icon, err := BuildIcon(Key{MilitaryHint: true, Fleet: flight.FleetCommercial, Zoom: 8})
		require.NoError(t, err)
		assert.Equal(t, ColorMilitary, icon.Color)
	})

	t.Run("fleet colors", func(t *testing.T) {
		for fleet, color := range map[flight.FleetType]string{
			flight.FleetCommercial: ColorCommercial,
			flight.FleetRescue:     ColorRescue,
			flight.FleetPrivate:    ColorPrivate,
			flight.FleetMilitary:   ColorMilitary,
			flight.FleetUnknown:    ColorUnknown,
			"":                     ColorUnknown,
		} {
			icon, err := BuildIcon(Key{Fleet: fleet, Zoom: 8})
			require.NoError(t, err)
			assert.Equal(t, color, icon.Color, "fleet %q", fleet)
			assert.Contains(t, icon.HTML, color)
		}
	})

	t.Run("static markers are dimmed unless selected", func(t *testing.T) {
		static, err := BuildIcon(Key{Static: true, Zoom: 8})
		require.NoError(t, err)
		assert.Equal(t, 0.45, static.Opacity)
		assert.Contains(t, static.HTML, "opacity: 0.45")

		selected, err := BuildIcon(Key{Static: true, Selected: true, Zoom: 8})
		require.NoError(t, err)
		assert.Equal(t, 1.0, selected.Opacity)
		assert.Equal(t, StrokeSelected, selected.Stroke)
	})

	t.Run("debug hitbox class", func(t *testing.T) {
		icon, err := BuildIcon(Key{DebugHitbox: true, Zoom: 8})
		require.NoError(t, err)
		assert.Contains(t, icon.HTML, "aircraft-hitbox is-debug")
	})

	t.Run("helicopter glyph", func(t *testing.T) {
		icon, err := BuildIcon(Key{Airframe: flight.AirframeHelicopter, Fleet: flight.FleetRescue, Zoom: 8})
		require.NoError(t, err)
		assert.Contains(t, icon.HTML, `rx="1.4"`)
		assert.Equal(t, 2, strings.Count(icon.HTML, `width="5.2"`)+strings.Count(icon.HTML, `width="9.4"`))
	})
}

func TestAirplanePathIsSymmetric(t *testing.T) {
	path := airplanePath(ShapeCommercial, flight.SizeMedium)
	assert.True(t, strings.HasPrefix(path, "M 20 3 L 22.2 12 L 30.4 16.8"))
	assert.True(t, strings.HasSuffix(path, "L 17.8 12 Z"))
	assert.NotContains(t, path, "99999")
}

func TestKeyID(t *testing.T) {
	military := true
	key := KeyFor(Input{
		Item: flight.Item{
			MilitaryHint: &military,
			FleetType:    flight.FleetMilitary,
			AirframeType: flight.AirframeHelicopter,
			AircraftSize: flight.SizeLarge,
		},
		Selected: true,
		Zoom:     9.6,
	})
	assert.Equal(t, "military-helicopter-large-z10-mil-sel", key.ID())

	assert.Equal(t, "unknown-unknown-unknown-z8-static-debug", Key{Zoom: 8, Static: true, DebugHitbox: true}.ID())
}
