package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudradar/livemap/internal/flight"
	"github.com/cloudradar/livemap/internal/refresh"
	"github.com/cloudradar/livemap/internal/track"
	"github.com/cloudradar/livemap/internal/websocket"
)

var (
	// ErrClosed is returned once the engine has been torn down
	ErrClosed = errors.New("dashboard engine is closed")
	// ErrRunning is returned when Run is called twice
	ErrRunning = errors.New("dashboard engine is already running")
	// ErrUnknownAircraft is returned when selecting an aircraft that is not on the map
	ErrUnknownAircraft = errors.New("aircraft is not in the current snapshot")
	// ErrInvalidZoom is returned for zoom levels outside the map range
	ErrInvalidZoom = errors.New("zoom must be between 0 and 22")
)

// APIStatus tells whether the flights API answered the last refresh
type APIStatus string

const (
	APIOnline   APIStatus = "online"
	APIDegraded APIStatus = "degraded"
	APIOffline  APIStatus = "offline"
)

// FeedStatus tells whether the data the API serves is recent
type FeedStatus string

const (
	FeedOnline  FeedStatus = "online"
	FeedStale   FeedStatus = "stale"
	FeedUnknown FeedStatus = "unknown"
)

// Upstream is the flights API the engine reads from
type Upstream interface {
	FetchSnapshot(ctx context.Context, area flight.Bbox, limit int) (*flight.Snapshot, error)
	FetchMetrics(ctx context.Context, area flight.Bbox) (*flight.Metrics, error)
	FetchDetail(ctx context.Context, id string) (*flight.Detail, error)
	Subscribe(ctx context.Context, onEvent func(epoch *int64), onError func(err error)) func()
}

// Publisher receives every message the engine pushes to presentation clients
type Publisher interface {
	Broadcast(message *websocket.Message)
}

// Options configures an engine
type Options struct {
	Area            flight.Bbox
	Limit           int
	RefreshInterval time.Duration
	FrameInterval   time.Duration
	StaleAfter      time.Duration
	SelectionMisses int
	DetailCacheSize int
	Zoom            float64
	DebugHitbox     bool

	// Timers drives the watchdog; nil uses the system clock
	Timers refresh.Timers
	Now    func() time.Time
}

// DefaultOptions returns the production settings
func DefaultOptions() Options {
	return Options{
		Area:            flight.IleDeFrance,
		Limit:           400,
		RefreshInterval: 10 * time.Second,
		FrameInterval:   16 * time.Millisecond,
		StaleAfter:      120 * time.Second,
		SelectionMisses: refresh.DefaultSelectionMisses,
		DetailCacheSize: 32,
		Zoom:            8,
	}
}

func (o Options) withDefaults() Options {
	defaults := DefaultOptions()
	if o.Area == (flight.Bbox{}) {
		o.Area = defaults.Area
	}
	if o.Limit <= 0 {
		o.Limit = defaults.Limit
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = defaults.RefreshInterval
	}
	if o.FrameInterval <= 0 {
		o.FrameInterval = defaults.FrameInterval
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = defaults.StaleAfter
	}
	if o.SelectionMisses <= 0 {
		o.SelectionMisses = defaults.SelectionMisses
	}
	if o.DetailCacheSize <= 0 {
		o.DetailCacheSize = defaults.DetailCacheSize
	}
	if o.Zoom == 0 {
		o.Zoom = defaults.Zoom
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Marker is one aircraft as drawn in the current frame
type Marker struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
	Heading  *float64 `json:"heading"`
	Speed    *float64 `json:"speed"`
	Altitude *float64 `json:"altitude"`
	Static   bool     `json:"static"`
	Selected bool     `json:"selected"`
	Icon     string   `json:"icon"`
}

// Status summarizes the health of the map
type Status struct {
	API              APIStatus  `json:"api"`
	Feed             FeedStatus `json:"feed"`
	LastRefreshed    *time.Time `json:"lastRefreshed"`
	LatestBatchEpoch *int64     `json:"latestBatchEpoch"`
	AircraftCount    int        `json:"aircraftCount"`
	Animating        bool       `json:"animating"`
}

// Selection is the detail pane of the selected aircraft
type Selection struct {
	ID              string         `json:"id"`
	Detail          *flight.Detail `json:"detail"`
	Track           track.Segments `json:"track"`
	MagneticHeading *float64       `json:"magneticHeading"`
	Loading         bool           `json:"loading"`
	Error           string         `json:"error,omitempty"`
}

// DetailError is a failed detail load. It only affects the detail pane.
type DetailError struct {
	ID  string
	Err error
}

func (e *DetailError) Error() string {
	return fmt.Sprintf("failed to load details for %s: %v", e.ID, e.Err)
}

func (e *DetailError) Unwrap() error {
	return e.Err
}
