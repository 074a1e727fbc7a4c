package model

import "time"

// Status mirrors the platform's scheduled-event lifecycle.
type Status int

const (
	StatusScheduled Status = 1
	StatusActive    Status = 2
	StatusCompleted Status = 3
	StatusCanceled  Status = 4
)

// Finished reports whether an event with this status should disappear from calendars.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// Event is the canonical scheduling record shared by the event source, the
// mirror table and the calendar projection.
type Event struct {
	// ID is the platform's event identifier and the only matching key between snapshots.
	ID string

	Name        string
	Description *string

	StartTime time.Time
	// EndTime is optional upstream; projectors derive one when nil.
	EndTime *time.Time

	CreatorID *string
	Location  *string

	// Recurrence is a single "RRULE:..." line produced by the recurrence
	// package, or nil for one-shot events.
	Recurrence *string

	// URL links back to the event on the platform. It is neither persisted
	// nor compared.
	URL string
}

// Snapshot is every event known at one point in time. Order carries no meaning.
type Snapshot []Event

// Index maps event ids to their position-independent record.
func (s Snapshot) Index() map[string]Event {
	idx := make(map[string]Event, len(s))
	for _, ev := range s {
		idx[ev.ID] = ev
	}
	return idx
}

// End returns EndTime when present and StartTime plus fallback otherwise.
func (e Event) End(fallback time.Duration) time.Time {
	if e.EndTime != nil {
		return *e.EndTime
	}
	return e.StartTime.Add(fallback)
}

// Ptr returns a pointer to v. Handy for the optional fields above.
func Ptr[T any](v T) *T {
	return &v
}

// Credential is a linked user's calendar access token, valid for at least
// the configured refresh skew when handed out.
type Credential struct {
	UserID      string
	AccessToken string
	Expiry      time.Time
}
