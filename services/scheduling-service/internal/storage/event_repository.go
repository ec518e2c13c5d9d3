package storage

import (
	"context"

	"github.com/md-rashed-zaman/teamsched/libs/db"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/model"
)

type EventRepository struct {
	pool *db.Pool
}

func NewEventRepository(pool *db.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// FindEvents returns the owner's events intersecting window plus every
// recurring template that starts before the window ends.
func (r *EventRepository) FindEvents(ctx context.Context, ownerID string, window interval.Interval, excludeCancelled bool) ([]model.EventTemplate, error) {
	if err := checkID(ownerID); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, owner_id::text, title, start_time, end_time, recurrence, status
		FROM events
		WHERE owner_id = $1
			AND (NOT $4 OR status <> 'cancelled')
			AND start_time < $3
			AND (end_time > $2 OR (recurrence <> '' AND upper(recurrence) <> 'NONE'))
		ORDER BY start_time
	`, ownerID, window.Start, window.End, excludeCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EventTemplate
	for rows.Next() {
		var (
			ev  model.EventTemplate
			raw string
		)
		if err := rows.Scan(&ev.ID, &ev.OwnerID, &ev.Title, &ev.StartTime, &ev.EndTime, &raw, &ev.Status); err != nil {
			return nil, err
		}
		ev.Recurrence = model.ParseRecurrence(raw)
		out = append(out, ev)
	}
	return out, rows.Err()
}
