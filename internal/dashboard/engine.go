package dashboard

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cloudradar/livemap/internal/animation"
	"github.com/cloudradar/livemap/internal/flight"
	"github.com/cloudradar/livemap/internal/geo"
	"github.com/cloudradar/livemap/internal/markers"
	"github.com/cloudradar/livemap/internal/refresh"
	"github.com/cloudradar/livemap/internal/track"
	"github.com/cloudradar/livemap/internal/websocket"
	"github.com/cloudradar/livemap/pkg/logger"
)

// Engine keeps the live map in sync with the flights API. It owns the
// rendered markers, the last batch epoch, the selection and the statuses;
// every mutation happens under one mutex and is skipped once closed.
type Engine struct {
	upstream  Upstream
	publisher Publisher
	resolver  *markers.Resolver
	opts      Options
	logger    *logger.Logger

	coordinator *refresh.Coordinator
	animator    *animation.Animator
	tracker     *refresh.SelectionTracker
	details     *lru.Cache[string, *flight.Detail]

	mutex         sync.Mutex
	closed        bool
	ctx           context.Context
	cancel        context.CancelFunc
	watchdog      *refresh.Watchdog
	unsubscribe   func()
	items         []flight.Item
	lastEpoch     *int64
	metrics       *flight.Metrics
	apiStatus     APIStatus
	feedStatus    FeedStatus
	lastRefreshed *time.Time
	selectedID    string
	selection     *Selection
	zoom          float64
	dirty         bool
	icons         map[string]*markers.Icon
}

// NewEngine creates an engine. A nil resolver builds default icons.
func NewEngine(up Upstream, pub Publisher, resolver *markers.Resolver, opts Options, log *logger.Logger) (*Engine, error) {
	opts = opts.withDefaults()
	if err := opts.Area.Validate(); err != nil {
		return nil, fmt.Errorf("invalid area: %w", err)
	}
	if resolver == nil {
		resolver = markers.NewResolver(nil)
	}

	details, err := lru.New[string, *flight.Detail](opts.DetailCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create detail cache: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		upstream:   up,
		publisher:  pub,
		resolver:   resolver,
		opts:       opts,
		logger:     log.Named("dashboard"),
		animator:   animation.New(),
		tracker:    refresh.NewSelectionTracker(opts.SelectionMisses),
		details:    details,
		ctx:        ctx,
		cancel:     cancel,
		apiStatus:  APIOffline,
		feedStatus: FeedUnknown,
		zoom:       opts.Zoom,
		icons:      make(map[string]*markers.Icon),
	}
	e.coordinator = refresh.NewCoordinator(e.refresh)
	return e, nil
}

// Run starts the refresh triggers and the frame loop. It blocks until ctx is
// done or the engine is closed, then tears everything down.
func (e *Engine) Run(ctx context.Context) error {
	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return ErrClosed
	}
	if e.watchdog != nil {
		e.mutex.Unlock()
		return ErrRunning
	}
	parent := e.ctx
	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(parent, cancel)
	e.ctx = runCtx
	e.watchdog = refresh.NewWatchdog(func() { e.coordinator.Request(runCtx) }, e.opts.RefreshInterval, e.opts.Timers)
	e.mutex.Unlock()
	defer stop()

	e.logger.Info("Starting live map engine",
		logger.String("area", e.opts.Area.Query()),
		logger.Duration("refresh_interval", e.opts.RefreshInterval))

	unsubscribe := e.upstream.Subscribe(runCtx,
		func(epoch *int64) { e.handleStreamEvent(runCtx, epoch) },
		func(err error) {
			e.logger.Debug("Flight update stream error", logger.Error(err))
		})
	e.mutex.Lock()
	e.unsubscribe = unsubscribe
	e.mutex.Unlock()

	e.coordinator.Request(runCtx)
	e.frameLoop(runCtx)

	e.Close()
	cancel()
	e.logger.Info("Live map engine stopped")
	return nil
}

// Close stops the animation, the watchdog, the stream subscription and the
// frame loop. Completions that arrive afterwards are ignored.
func (e *Engine) Close() {
	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return
	}
	e.closed = true
	watchdog := e.watchdog
	unsubscribe := e.unsubscribe
	cancel := e.cancel
	e.mutex.Unlock()

	e.animator.Cancel()
	if watchdog != nil {
		watchdog.Stop()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	cancel()
}

// RequestRefresh asks for a refresh cycle and returns a channel closed when it completes
func (e *Engine) RequestRefresh() <-chan struct{} {
	e.mutex.Lock()
	ctx := e.ctx
	watchdog := e.watchdog
	e.mutex.Unlock()

	if watchdog != nil {
		watchdog.Reschedule()
	}
	return e.coordinator.Request(ctx)
}

func (e *Engine) handleStreamEvent(ctx context.Context, epoch *int64) {
	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return
	}
	last := e.lastEpoch
	watchdog := e.watchdog
	e.mutex.Unlock()

	if !refresh.ShouldRefreshFromStreamEvent(epoch, last) {
		return
	}

	e.logger.Debug("Batch announced, refreshing", logger.Epoch("batch_epoch", epoch))
	if watchdog != nil {
		watchdog.Reschedule()
	}
	e.coordinator.Request(ctx)
}

// refresh is one cycle: fetch, normalize, decide how to move the markers,
// refresh metrics and keep the selection alive
func (e *Engine) refresh(ctx context.Context) {
	if !e.alive() {
		return
	}

	snapshot, err := e.upstream.FetchSnapshot(ctx, e.opts.Area, e.opts.Limit)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.logger.Warn("Failed to refresh flights", logger.Error(err))
		e.mutex.Lock()
		if e.closed {
			e.mutex.Unlock()
			return
		}
		if e.apiStatus == APIOnline {
			e.apiStatus = APIDegraded
		} else {
			e.apiStatus = APIOffline
		}
		e.feedStatus = FeedUnknown
		status := e.statusLocked()
		e.mutex.Unlock()

		e.publish(statusMessage(status))
		return
	}

	items := flight.Normalize(snapshot.Items)
	now := e.opts.Now()

	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return
	}

	changed := refresh.BatchChanged(snapshot.LatestBatchEpoch, e.lastEpoch)
	action := refresh.ResolveSnapshotUpdateAction(refresh.UpdateInput{
		HasRenderedFlights: len(e.animator.Frame()) > 0,
		BatchChanged:       changed,
		AnimationRunning:   e.animator.Running(),
	})

	switch action {
	case refresh.ActionSnap:
		e.animator.Reset(items)
		e.dirty = true
	case refresh.ActionAnimate:
		duration := animation.SelectDuration(e.lastEpoch, snapshot.LatestBatchEpoch, e.opts.RefreshInterval)
		e.animator.Start(e.animator.Frame(), items, duration, now)
	}

	e.items = items
	e.apiStatus = APIOnline
	e.feedStatus = feedStatusFor(items, now, e.opts.StaleAfter)
	needMetrics := e.metrics == nil || changed
	if changed {
		refreshed := now
		e.lastRefreshed = &refreshed
		e.lastEpoch = snapshot.LatestBatchEpoch
	}

	var reload string
	var cleared bool
	if e.selectedID != "" {
		present := containsID(items, e.selectedID)
		if e.tracker.Observe(present) {
			e.logger.Info("Selected aircraft left the map", logger.String("icao24", e.selectedID))
			e.selectedID = ""
			e.selection = nil
			e.dirty = true
			cleared = true
		} else if present && changed {
			reload = e.selectedID
		}
	}
	status := e.statusLocked()
	e.mutex.Unlock()

	e.logger.Debug("Refreshed flights",
		logger.Int("aircraft_count", len(items)),
		logger.Epoch("batch_epoch", snapshot.LatestBatchEpoch),
		logger.String("action", string(action)))

	e.publish(statusMessage(status))
	if cleared {
		e.publish(selectionMessage(nil))
	}
	if reload != "" {
		go e.loadDetail(ctx, reload)
	}
	if needMetrics {
		e.refreshMetrics(ctx)
	}
}

func (e *Engine) refreshMetrics(ctx context.Context) {
	metrics, err := e.upstream.FetchMetrics(ctx, e.opts.Area)
	if err != nil {
		e.logger.Warn("Failed to refresh metrics", logger.Error(err))
		return
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	if !e.closed {
		e.metrics = metrics
	}
}

// loadDetail fetches the detail of id. The result is dropped when the
// selection changed while it was loading.
func (e *Engine) loadDetail(ctx context.Context, id string) {
	detail, err := e.upstream.FetchDetail(ctx, id)
	now := e.opts.Now()

	e.mutex.Lock()
	if e.closed || e.selectedID != id {
		e.mutex.Unlock()
		return
	}

	if err != nil {
		detailErr := &DetailError{ID: id, Err: err}
		e.logger.Warn("Failed to load aircraft details", logger.Error(detailErr))
		if e.selection == nil {
			e.selection = &Selection{ID: id}
		}
		e.selection.Loading = false
		e.selection.Error = detailErr.Error()
	} else {
		e.details.Add(id, detail)
		e.selection = project(id, detail, now)
	}
	selection := *e.selection
	e.mutex.Unlock()

	e.publish(selectionMessage(&selection))
}

// project turns a detail response into what the detail pane shows
func project(id string, detail *flight.Detail, now time.Time) *Selection {
	selection := &Selection{
		ID:     id,
		Detail: detail,
		Track:  track.Segment(detail.RecentTrack),
	}
	if flight.Finite(detail.Heading) && flight.Finite(detail.Lat) && flight.Finite(detail.Lon) {
		alt := 0.0
		if flight.Finite(detail.Altitude) {
			alt = *detail.Altitude
		}
		heading := geo.MagneticHeading(*detail.Heading, *detail.Lat, *detail.Lon, alt, now)
		selection.MagneticHeading = &heading
	}
	return selection
}

// Select makes id the selected aircraft and loads its detail in the background.
// A previously viewed detail is shown while the fresh one loads.
func (e *Engine) Select(id string) (*Selection, error) {
	id = flight.NormalizeID(id)
	now := e.opts.Now()

	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return nil, ErrClosed
	}
	if !containsID(e.items, id) {
		e.mutex.Unlock()
		return nil, fmt.Errorf("select %q: %w", id, ErrUnknownAircraft)
	}

	e.selectedID = id
	e.tracker.Reset()
	if cached, ok := e.details.Get(id); ok {
		e.selection = project(id, cached, now)
	} else {
		e.selection = &Selection{ID: id, Track: track.Segment(nil)}
	}
	e.selection.Loading = true
	e.dirty = true
	selection := *e.selection
	ctx := e.ctx
	e.mutex.Unlock()

	e.logger.Debug("Selected aircraft", logger.String("icao24", id))
	e.publish(selectionMessage(&selection))
	go e.loadDetail(ctx, id)

	return &selection, nil
}

// ClearSelection drops the selection
func (e *Engine) ClearSelection() {
	e.mutex.Lock()
	if e.closed || e.selectedID == "" {
		e.mutex.Unlock()
		return
	}
	e.selectedID = ""
	e.selection = nil
	e.tracker.Reset()
	e.dirty = true
	e.mutex.Unlock()

	e.publish(selectionMessage(nil))
}

// Selection returns the current selection, or nil
func (e *Engine) Selection() *Selection {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.selection == nil {
		return nil
	}
	selection := *e.selection
	return &selection
}

// SetZoom changes the map zoom used to size markers
func (e *Engine) SetZoom(zoom float64) error {
	if math.IsNaN(zoom) || zoom < 0 || zoom > 22 {
		return ErrInvalidZoom
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.zoom != zoom {
		e.zoom = zoom
		e.dirty = true
	}
	return nil
}

// Zoom returns the current map zoom
func (e *Engine) Zoom() float64 {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.zoom
}

// Status returns the current map health
func (e *Engine) Status() Status {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.statusLocked()
}

func (e *Engine) statusLocked() Status {
	status := Status{
		API:              e.apiStatus,
		Feed:             e.feedStatus,
		LatestBatchEpoch: e.lastEpoch,
		AircraftCount:    len(e.items),
		Animating:        e.animator.Running(),
	}
	if e.lastRefreshed != nil {
		t := *e.lastRefreshed
		status.LastRefreshed = &t
	}
	return status
}

// Metrics returns the last fetched traffic metrics, or nil
func (e *Engine) Metrics() *flight.Metrics {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.metrics
}

// Markers renders the current frame
func (e *Engine) Markers() []Marker {
	rendered, _ := e.render(e.animator.Frame(), false)
	return rendered
}

// Icon resolves the icon of one aircraft at the given zoom
func (e *Engine) Icon(id string, zoom float64, debug bool) (*markers.Icon, error) {
	id = flight.NormalizeID(id)
	now := e.opts.Now()

	e.mutex.Lock()
	var item flight.Item
	found := false
	for _, candidate := range e.items {
		if candidate.ID == id {
			item, found = candidate, true
			break
		}
	}
	selected := e.selectedID == id
	e.mutex.Unlock()

	if !found {
		return nil, fmt.Errorf("icon for %q: %w", id, ErrUnknownAircraft)
	}
	return e.resolver.Resolve(markers.Input{
		Item:        item,
		Selected:    selected,
		Zoom:        zoom,
		Static:      e.isStatic(item, now),
		DebugHitbox: debug,
	})
}

// Icons returns every icon announced to clients so far, keyed by icon id
func (e *Engine) Icons() map[string]*markers.Icon {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	icons := make(map[string]*markers.Icon, len(e.icons))
	for id, icon := range e.icons {
		icons[id] = icon
	}
	return icons
}

// render projects a frame into markers. When announce is set, icons not yet
// sent to clients are recorded and returned.
func (e *Engine) render(frame []flight.Item, announce bool) ([]Marker, map[string]*markers.Icon) {
	now := e.opts.Now()

	e.mutex.Lock()
	defer e.mutex.Unlock()

	fresh := make(map[string]*markers.Icon)
	rendered := make([]Marker, 0, len(frame))
	for _, item := range frame {
		if !item.HasPosition() {
			continue
		}

		in := markers.Input{
			Item:        item,
			Selected:    item.ID == e.selectedID,
			Zoom:        e.zoom,
			Static:      e.isStatic(item, now),
			DebugHitbox: e.opts.DebugHitbox,
		}
		icon, err := e.resolver.Resolve(in)
		if err != nil {
			e.logger.Debug("Failed to build marker icon", logger.String("icao24", item.ID), logger.Error(err))
			continue
		}
		iconID := markers.KeyFor(in).ID()
		if _, ok := e.icons[iconID]; announce && !ok {
			e.icons[iconID] = icon
			fresh[iconID] = icon
		}

		rendered = append(rendered, Marker{
			ID:       item.ID,
			Label:    item.Label(),
			Lat:      *item.Lat,
			Lon:      *item.Lon,
			Heading:  item.Heading,
			Speed:    item.Speed,
			Altitude: item.Altitude,
			Static:   in.Static,
			Selected: in.Selected,
			Icon:     iconID,
		})
	}
	return rendered, fresh
}

// isStatic reports whether the aircraft has not reported for a while
func (e *Engine) isStatic(item flight.Item, now time.Time) bool {
	if !flight.Finite(item.LastSeen) {
		return false
	}
	age := float64(now.Unix()) - *item.LastSeen
	return age > e.opts.StaleAfter.Seconds()
}

// frameLoop advances the animation and pushes a frame whenever the markers moved
func (e *Engine) frameLoop(ctx context.Context) {
	ticker := time.NewTicker(e.opts.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.renderFrame()
		}
	}
}

// renderFrame emits one frame if anything changed since the last one
func (e *Engine) renderFrame() bool {
	running := e.animator.Running()

	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return false
	}
	dirty := e.dirty
	e.dirty = false
	e.mutex.Unlock()

	if !running && !dirty {
		return false
	}

	frame, done := e.animator.Tick(e.opts.Now())
	rendered, fresh := e.render(frame, true)
	if len(fresh) > 0 {
		e.publish(iconsMessage(fresh))
	}
	e.publish(framesMessage(rendered, !done))
	return true
}

func (e *Engine) publish(message *websocket.Message) {
	if e.publisher == nil || !e.alive() {
		return
	}
	e.publisher.Broadcast(message)
}

func (e *Engine) alive() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return !e.closed
}

func containsID(items []flight.Item, id string) bool {
	for _, item := range items {
		if item.ID == id {
			return true
		}
	}
	return false
}

// feedStatusFor compares the freshest report in the batch against now
func feedStatusFor(items []flight.Item, now time.Time, staleAfter time.Duration) FeedStatus {
	latest, ok := flight.LatestLastSeen(items)
	if !ok {
		return FeedUnknown
	}
	if float64(now.Unix())-latest <= staleAfter.Seconds() {
		return FeedOnline
	}
	return FeedStale
}
