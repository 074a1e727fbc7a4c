// Package ical renders the event mirror as an iCalendar feed.
package ical

import (
	"io"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"gitea.jw6.us/james/guildcal/internal/log"
	"gitea.jw6.us/james/guildcal/internal/model"
	"gitea.jw6.us/james/guildcal/internal/recurrence"
)

const productID = "-//guildcal//guild events//EN"

// Options tune the feed. Stamp is written as DTSTAMP on every event so the
// output is reproducible.
type Options struct {
	Name            string
	TimeZone        string
	Stamp           time.Time
	DefaultDuration time.Duration
}

// Export writes snap as a VCALENDAR. Events whose recurrence does not parse
// are exported as single occurrences.
func Export(w io.Writer, snap model.Snapshot, opts Options) error {
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = time.Hour
	}

	cal := ics.NewCalendarFor("guildcal")
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(productID)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}
	if opts.TimeZone != "" {
		cal.SetXWRTimezone(opts.TimeZone)
	}

	for _, ev := range snap {
		vev := cal.AddEvent(ev.ID)
		vev.SetDtStampTime(opts.Stamp)
		vev.SetSummary(ev.Name)
		vev.SetStartAt(ev.StartTime)
		vev.SetEndAt(ev.End(opts.DefaultDuration))
		if ev.Description != nil {
			vev.SetDescription(*ev.Description)
		}
		if ev.Location != nil {
			vev.SetLocation(*ev.Location)
		}
		if ev.URL != "" {
			vev.SetURL(ev.URL)
		}
		if ev.Recurrence != nil {
			if err := recurrence.Validate(*ev.Recurrence); err != nil {
				log.Error("skipping recurrence in export", err, "event_id", ev.ID)
				continue
			}
			vev.AddRrule(strings.TrimPrefix(*ev.Recurrence, "RRULE:"))
		}
	}

	_, err := io.WriteString(w, cal.Serialize())
	return err
}
