package refresh

// Action is what to do with the rendered markers once a snapshot arrives
type Action string

const (
	ActionSnap    Action = "snap"
	ActionAnimate Action = "animate"
	ActionNoop    Action = "noop"
)

// UpdateInput is the state a snapshot update decision depends on
type UpdateInput struct {
	HasRenderedFlights bool
	BatchChanged       bool
	AnimationRunning   bool
}

// ResolveSnapshotUpdateAction decides how a new snapshot reaches the screen.
// An unchanged batch never interrupts a running animation.
func ResolveSnapshotUpdateAction(in UpdateInput) Action {
	if !in.HasRenderedFlights {
		return ActionSnap
	}
	if in.BatchChanged {
		return ActionAnimate
	}
	if in.AnimationRunning {
		return ActionNoop
	}
	return ActionSnap
}

// ShouldRefreshFromStreamEvent reports whether a push event announces a batch
// we have not rendered yet. An event without an epoch always refreshes.
func ShouldRefreshFromStreamEvent(latest, last *int64) bool {
	return latest == nil || last == nil || *latest != *last
}

// BatchChanged compares batch epochs. An unknown epoch always counts as changed.
func BatchChanged(next, last *int64) bool {
	return next == nil || last == nil || *next != *last
}
