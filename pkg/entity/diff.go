package entity

import "time"

// diffFields is the stable set of projection fields the reconciler compares.
// Anything outside this set can drift without forcing a message edit.
const (
	FieldState       = "state"
	FieldEntryCount  = "entry_count"
	FieldEndTime     = "end_time"
	FieldWinnerCount = "winner_count"
	FieldPoints      = "points"
	FieldCapacity    = "capacity"
	FieldTitle       = "title"
)

// Diff returns the names of stable fields that differ between the cached
// projection and a freshly fetched entity. An empty result means the posted
// message is already in sync.
func Diff(old, new *Entity) []string {
	if old == nil || new == nil {
		if old == new {
			return nil
		}
		return []string{FieldState}
	}

	var changed []string
	if old.State != new.State {
		changed = append(changed, FieldState)
	}
	if old.EntryCount != new.EntryCount {
		changed = append(changed, FieldEntryCount)
	}
	if !timePtrEqual(old.EndTime, new.EndTime) {
		changed = append(changed, FieldEndTime)
	}
	if old.WinnerCount != new.WinnerCount {
		changed = append(changed, FieldWinnerCount)
	}
	if old.Points != new.Points {
		changed = append(changed, FieldPoints)
	}
	if old.Capacity != new.Capacity {
		changed = append(changed, FieldCapacity)
	}
	if old.Title != new.Title {
		changed = append(changed, FieldTitle)
	}
	return changed
}

// EndedTransition reports whether new crossed into a terminal state that old
// had not reached. The reconciler uses this to fire the one-shot end-of-life
// notification.
func EndedTransition(old, new *Entity) bool {
	if new == nil || !new.State.Terminal() {
		return false
	}
	return old == nil || !old.State.Terminal()
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
