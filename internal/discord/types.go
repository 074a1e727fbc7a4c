package discord

import (
	"time"

	"gitea.jw6.us/james/guildcal/internal/model"
	"gitea.jw6.us/james/guildcal/internal/recurrence"
)

// ScheduledEvent is the subset of the guild scheduled event object we read.
type ScheduledEvent struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name"`
	Description        *string          `json:"description"`
	ScheduledStartTime time.Time        `json:"scheduled_start_time"`
	ScheduledEndTime   *time.Time       `json:"scheduled_end_time"`
	CreatorID          *string          `json:"creator_id"`
	Status             model.Status     `json:"status"`
	EntityMetadata     *EntityMetadata  `json:"entity_metadata"`
	RecurrenceRule     *recurrence.Rule `json:"recurrence_rule"`
}

type EntityMetadata struct {
	Location *string `json:"location"`
}

// EventURL links to the event page inside the guild.
func EventURL(guildID, eventID string) string {
	return "https://discord.com/events/" + guildID + "/" + eventID
}
