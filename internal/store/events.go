package store

import (
	"context"
	"fmt"

	"gitea.jw6.us/james/guildcal/internal/model"
)

const eventColumns = `id, name, description, starttime, endtime, creatorid, location, recurrence`

type eventRepo struct {
	pool PgxPool
}

func (r *eventRepo) ReadSnapshot(ctx context.Context) (model.Snapshot, error) {
	defer observeDB(ctx, "events.read_snapshot")()

	rows, err := r.pool.Query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY starttime, id`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var snap model.Snapshot
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.Name, &e.Description, &e.StartTime, &e.EndTime, &e.CreatorID, &e.Location, &e.Recurrence); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		snap = append(snap, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return snap, nil
}

func (r *eventRepo) Insert(ctx context.Context, e model.Event) error {
	defer observeDB(ctx, "events.insert")()

	const q = `INSERT INTO events (` + eventColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    description = EXCLUDED.description,
    starttime = EXCLUDED.starttime,
    endtime = EXCLUDED.endtime,
    creatorid = EXCLUDED.creatorid,
    location = EXCLUDED.location,
    recurrence = EXCLUDED.recurrence,
    synced_at = NOW()`
	if _, err := r.pool.Exec(ctx, q, eventArgs(e)...); err != nil {
		return fmt.Errorf("insert event %s: %w", e.ID, err)
	}
	return nil
}

func (r *eventRepo) Update(ctx context.Context, e model.Event) error {
	defer observeDB(ctx, "events.update")()

	const q = `UPDATE events SET
    name = $2,
    description = $3,
    starttime = $4,
    endtime = $5,
    creatorid = $6,
    location = $7,
    recurrence = $8,
    synced_at = NOW()
WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, eventArgs(e)...)
	if err != nil {
		return fmt.Errorf("update event %s: %w", e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		// Someone pruned the mirror between read and write.
		return r.Insert(ctx, e)
	}
	return nil
}

func (r *eventRepo) Remove(ctx context.Context, id string) error {
	defer observeDB(ctx, "events.remove")()

	if _, err := r.pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, id); err != nil {
		return fmt.Errorf("remove event %s: %w", id, err)
	}
	return nil
}

func eventArgs(e model.Event) []any {
	return []any{e.ID, e.Name, e.Description, e.StartTime, e.EndTime, e.CreatorID, e.Location, e.Recurrence}
}
