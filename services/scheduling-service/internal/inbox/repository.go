// Package inbox records consumed event ids so redelivered requests are
// handled once.
package inbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the slice of *db.Pool the inbox needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Repository struct {
	db Execer
}

func NewRepository(db Execer) *Repository {
	return &Repository{db: db}
}

// Record reports false when the event was already seen. Messages without an
// id cannot be deduplicated and are always reported as new.
func (r *Repository) Record(ctx context.Context, eventID string, eventType string) (bool, error) {
	if eventID == "" {
		return true, nil
	}
	tag, err := r.db.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("inbox: record %s: %w", eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}
