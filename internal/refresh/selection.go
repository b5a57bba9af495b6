package refresh

// DefaultSelectionMisses is how many snapshots in a row may miss the selected
// aircraft before the selection is dropped
const DefaultSelectionMisses = 3

// SelectionTracker counts consecutive snapshots missing the selected aircraft.
// It is not safe for concurrent use.
type SelectionTracker struct {
	limit  int
	misses int
}

// NewSelectionTracker creates a tracker clearing after limit misses
func NewSelectionTracker(limit int) *SelectionTracker {
	if limit <= 0 {
		limit = DefaultSelectionMisses
	}
	return &SelectionTracker{limit: limit}
}

// Observe records one snapshot and reports whether the selection should be cleared
func (s *SelectionTracker) Observe(present bool) bool {
	if present {
		s.misses = 0
		return false
	}
	s.misses++
	if s.misses >= s.limit {
		s.misses = 0
		return true
	}
	return false
}

// Reset forgets past misses, used when the selection changes
func (s *SelectionTracker) Reset() {
	s.misses = 0
}

// Misses returns the current run of misses
func (s *SelectionTracker) Misses() int {
	return s.misses
}
