package flight

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AirframeType classifies the airframe of an aircraft
type AirframeType string

const (
	AirframeAirplane   AirframeType = "airplane"
	AirframeHelicopter AirframeType = "helicopter"
	AirframeUnknown    AirframeType = "unknown"
)

// FleetType classifies who operates an aircraft
type FleetType string

const (
	FleetCommercial FleetType = "commercial"
	FleetMilitary   FleetType = "military"
	FleetPrivate    FleetType = "private"
	FleetRescue     FleetType = "rescue"
	FleetUnknown    FleetType = "unknown"
)

// AircraftSize is a coarse size bucket used for marker sizing
type AircraftSize string

const (
	SizeSmall   AircraftSize = "small"
	SizeMedium  AircraftSize = "medium"
	SizeLarge   AircraftSize = "large"
	SizeHeavy   AircraftSize = "heavy"
	SizeUnknown AircraftSize = "unknown"
)

// Item is one aircraft's instantaneous state as served by the flights API.
// Optional values are pointers; nil means the upstream had no value.
type Item struct {
	ID           string       `json:"icao24"`
	Callsign     *string      `json:"callsign"`
	Lat          *float64     `json:"lat"`
	Lon          *float64     `json:"lon"`
	Heading      *float64     `json:"heading"`
	LastSeen     *float64     `json:"lastSeen"` // epoch seconds
	Speed        *float64     `json:"speed"`    // knots
	Altitude     *float64     `json:"altitude"` // meters
	MilitaryHint *bool        `json:"militaryHint"`
	AirframeType AirframeType `json:"airframeType,omitempty"`
	FleetType    FleetType    `json:"fleetType,omitempty"`
	AircraftSize AircraftSize `json:"aircraftSize,omitempty"`
}

// HasPosition reports whether both coordinates are present and finite
func (i Item) HasPosition() bool {
	return Finite(i.Lat) && Finite(i.Lon)
}

// IsMilitary reports whether the aircraft should be drawn as military
func (i Item) IsMilitary() bool {
	return (i.MilitaryHint != nil && *i.MilitaryHint) || i.FleetType == FleetMilitary
}

// LastSeenOr returns the last-seen epoch or fallback when missing or non-finite
func (i Item) LastSeenOr(fallback float64) float64 {
	if Finite(i.LastSeen) {
		return *i.LastSeen
	}
	return fallback
}

// Label returns the callsign when known, otherwise the identifier
func (i Item) Label() string {
	if i.Callsign != nil {
		if cs := strings.TrimSpace(*i.Callsign); cs != "" {
			return cs
		}
	}
	return i.ID
}

// Bbox is a lon/lat bounding box
type Bbox struct {
	MinLon float64 `json:"minLon" toml:"min_lon"`
	MinLat float64 `json:"minLat" toml:"min_lat"`
	MaxLon float64 `json:"maxLon" toml:"max_lon"`
	MaxLat float64 `json:"maxLat" toml:"max_lat"`
}

// IleDeFrance is the default monitored area
var IleDeFrance = Bbox{
	MinLon: 0.9823,
	MinLat: 47.9557,
	MaxLon: 3.7221,
	MaxLat: 49.7575,
}

// Query renders the box the way the flights API expects: minLon,minLat,maxLon,maxLat
func (b Bbox) Query() string {
	parts := []string{
		strconv.FormatFloat(b.MinLon, 'f', -1, 64),
		strconv.FormatFloat(b.MinLat, 'f', -1, 64),
		strconv.FormatFloat(b.MaxLon, 'f', -1, 64),
		strconv.FormatFloat(b.MaxLat, 'f', -1, 64),
	}
	return strings.Join(parts, ",")
}

// Validate checks the box is well formed
func (b Bbox) Validate() error {
	if b.MinLat < -90 || b.MaxLat > 90 || b.MinLon < -180 || b.MaxLon > 180 {
		return fmt.Errorf("bbox out of range: %s", b.Query())
	}
	if b.MinLat >= b.MaxLat || b.MinLon >= b.MaxLon {
		return fmt.Errorf("bbox min must be below max: %s", b.Query())
	}
	return nil
}

// Snapshot is one list response of the flights API
type Snapshot struct {
	Items            []Item `json:"items"`
	Count            int    `json:"count"`
	TotalMatched     int    `json:"totalMatched"`
	Limit            int    `json:"limit"`
	Bbox             Bbox   `json:"bbox"`
	LatestBatchEpoch *int64 `json:"latestOpenSkyBatchEpoch"`
	Timestamp        string `json:"timestamp"`
}

// TrackPoint is one historical sample of a flight
type TrackPoint struct {
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
	Heading     *float64 `json:"heading"`
	Altitude    *float64 `json:"altitude"`
	GroundSpeed *float64 `json:"groundSpeed"`
	LastSeen    *float64 `json:"lastSeen"`
	OnGround    *bool    `json:"onGround"`
}

// Detail is the enriched record of a single aircraft
type Detail struct {
	ID            string       `json:"icao24"`
	Callsign      *string      `json:"callsign"`
	Registration  *string      `json:"registration"`
	Manufacturer  *string      `json:"manufacturer"`
	Model         *string      `json:"model"`
	Typecode      *string      `json:"typecode"`
	Category      *string      `json:"category"`
	Lat           *float64     `json:"lat"`
	Lon           *float64     `json:"lon"`
	Heading       *float64     `json:"heading"`
	Altitude      *float64     `json:"altitude"`
	GroundSpeed   *float64     `json:"groundSpeed"`
	VerticalRate  *float64     `json:"verticalRate"`
	LastSeen      *float64     `json:"lastSeen"`
	OnGround      *bool        `json:"onGround"`
	Country       *string      `json:"country"`
	MilitaryHint  *bool        `json:"militaryHint"`
	YearBuilt     *int         `json:"yearBuilt"`
	OwnerOperator *string      `json:"ownerOperator"`
	RecentTrack   []TrackPoint `json:"recentTrack"`
	Timestamp     string       `json:"timestamp"`
}

// BreakdownItem is one slice of a categorical breakdown
type BreakdownItem struct {
	Key     string  `json:"key"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// ActivityPoint is one bucket of the activity series
type ActivityPoint struct {
	Epoch int64 `json:"epoch"`
	Count int   `json:"count"`
}

// Metrics is the aggregate KPI payload. The engine only cares whether it is fresh.
type Metrics struct {
	ActiveAircraft              int             `json:"activeAircraft"`
	TrafficDensityPer10kKm2     float64         `json:"trafficDensityPer10kKm2"`
	MilitarySharePercent        float64         `json:"militarySharePercent"`
	DefenseActivityScore        float64         `json:"defenseActivityScore"`
	FleetBreakdown              []BreakdownItem `json:"fleetBreakdown"`
	AircraftSizes               []BreakdownItem `json:"aircraftSizes"`
	AircraftTypes               []BreakdownItem `json:"aircraftTypes"`
	ActivitySeries              []ActivityPoint `json:"activitySeries"`
	OpenSkyCreditsPerRequest24h *float64        `json:"openSkyCreditsPerRequest24h"`
	Timestamp                   string          `json:"timestamp"`
}

// Finite reports whether v is present and a finite number
func Finite(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}

// Epoch returns a pointer to v
func Epoch(v int64) *int64 {
	return &v
}
