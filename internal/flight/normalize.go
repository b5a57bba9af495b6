package flight

import (
	"math"
	"strings"
)

// NormalizeID lower-cases and trims an aircraft identifier
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Normalize reduces a raw snapshot to one plottable item per aircraft.
//
// Items without both coordinates or with a blank identifier are dropped.
// When an identifier repeats, the item with the greater or equal last-seen
// epoch wins, so exact ties go to the later item. Missing or non-finite
// last-seen values sort below everything else. The result keeps the order in
// which each identifier was first seen.
func Normalize(items []Item) []Item {
	index := make(map[string]int, len(items))
	out := make([]Item, 0, len(items))

	for _, item := range items {
		if item.Lat == nil || item.Lon == nil {
			continue
		}

		id := NormalizeID(item.ID)
		if id == "" {
			continue
		}

		candidate := item
		candidate.ID = id

		pos, exists := index[id]
		if !exists {
			index[id] = len(out)
			out = append(out, candidate)
			continue
		}

		if candidate.LastSeenOr(math.Inf(-1)) >= out[pos].LastSeenOr(math.Inf(-1)) {
			out[pos] = candidate
		}
	}

	return out
}

// LatestLastSeen returns the newest finite last-seen epoch, or false when none
func LatestLastSeen(items []Item) (float64, bool) {
	latest := math.Inf(-1)
	found := false
	for _, item := range items {
		if Finite(item.LastSeen) && *item.LastSeen > latest {
			latest = *item.LastSeen
			found = true
		}
	}
	return latest, found
}
