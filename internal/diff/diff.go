// Package diff computes which events disappeared, changed or appeared between
// two snapshots. Every function here is pure: the caller supplies "now".
package diff

import (
	"time"

	"gitea.jw6.us/james/guildcal/internal/model"
)

// Result holds the three disjoint change sets of one comparison.
type Result struct {
	Removed []model.Event
	Updated []model.Event
	Added   []model.Event
}

// Empty reports whether nothing needs to be applied.
func (r Result) Empty() bool {
	return len(r.Removed) == 0 && len(r.Updated) == 0 && len(r.Added) == 0
}

// Engine compares snapshots. Location fixes where the time-of-day / calendar
// date split happens; nil means UTC.
type Engine struct {
	Location *time.Location
}

// Compute returns all three change sets, indexing each snapshot once.
func (e Engine) Compute(old, current model.Snapshot, now time.Time) Result {
	oldIdx := old.Index()
	curIdx := current.Index()
	return Result{
		Removed: removed(old, curIdx, now),
		Updated: e.updated(oldIdx, current),
		Added:   added(oldIdx, current),
	}
}

// Removed lists old events missing from current, except those that already ended
// before now.
func (e Engine) Removed(old, current model.Snapshot, now time.Time) []model.Event {
	return removed(old, current.Index(), now)
}

// Added lists current events whose id was unknown in old.
func (e Engine) Added(old, current model.Snapshot) []model.Event {
	return added(old.Index(), current)
}

// Updated lists current events whose id exists in old and whose content changed.
func (e Engine) Updated(old, current model.Snapshot) []model.Event {
	return e.updated(old.Index(), current)
}

func removed(old model.Snapshot, current map[string]model.Event, now time.Time) []model.Event {
	var out []model.Event
	for _, ev := range old {
		if _, ok := current[ev.ID]; ok {
			continue
		}
		if ev.EndTime != nil && ev.EndTime.Before(now) {
			// Already over; it expired rather than being removed.
			continue
		}
		out = append(out, ev)
	}
	return out
}

func added(old map[string]model.Event, current model.Snapshot) []model.Event {
	var out []model.Event
	for _, ev := range current {
		if _, ok := old[ev.ID]; !ok {
			out = append(out, ev)
		}
	}
	return out
}

func (e Engine) updated(old map[string]model.Event, current model.Snapshot) []model.Event {
	var out []model.Event
	for _, ev := range current {
		prev, ok := old[ev.ID]
		if !ok {
			continue
		}
		if e.Changed(prev, ev) {
			out = append(out, ev)
		}
	}
	return out
}

// Changed applies the update policy to one matched pair. Metadata and
// time-of-day edits count; a shift of the calendar date alone never does, which
// keeps recurring events from being re-pushed every time an occurrence passes.
func (e Engine) Changed(prev, next model.Event) bool {
	if prev.Name != next.Name ||
		!equalString(prev.Description, next.Description) ||
		!equalString(prev.CreatorID, next.CreatorID) ||
		!equalString(prev.Location, next.Location) ||
		!equalString(prev.Recurrence, next.Recurrence) {
		return true
	}

	if e.clock(prev.StartTime) != e.clock(next.StartTime) {
		return true
	}
	if !e.equalClock(prev.EndTime, next.EndTime) {
		return true
	}

	// Only the dates can differ from here on. For a recurring event
	// (next.Recurrence != nil) that is the expected roll to the next
	// occurrence; one-shot events are not compared by date either.
	return false
}

type clockTime struct {
	hour, min, sec int
}

func (e Engine) clock(t time.Time) clockTime {
	loc := e.Location
	if loc == nil {
		loc = time.UTC
	}
	h, m, s := t.In(loc).Clock()
	return clockTime{hour: h, min: m, sec: s}
}

func (e Engine) equalClock(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return e.clock(*a) == e.clock(*b)
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
