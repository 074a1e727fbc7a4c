package store

import (
	"context"

	"gitea.jw6.us/james/guildcal/internal/model"
)

// EventRepository persists the mirror of the guild's scheduled events.
type EventRepository interface {
	ReadSnapshot(ctx context.Context) (model.Snapshot, error)
	// Insert writes a new row, overwriting one with the same id.
	Insert(ctx context.Context, event model.Event) error
	// Update rewrites an existing row and inserts it when missing.
	Update(ctx context.Context, event model.Event) error
	Remove(ctx context.Context, id string) error
}

// AccountRepository reads and refreshes linked Google accounts.
type AccountRepository interface {
	ListLinked(ctx context.Context) ([]Account, error)
	UpdateToken(ctx context.Context, userID, accessToken string, expiresAt int64) error
}
