package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/teamsched/libs/db"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/model"
)

type TemplateRepository struct {
	pool *db.Pool
}

func NewTemplateRepository(pool *db.Pool) *TemplateRepository {
	return &TemplateRepository{pool: pool}
}

type ruleRow struct {
	Weekday int16
	Start   string
	End     string
	Enabled bool
}

// GetTemplate loads the user's weekly availability. A user without settings
// or rules gets an empty UTC template.
func (r *TemplateRepository) GetTemplate(ctx context.Context, userID string) (model.AvailabilityTemplate, error) {
	if err := checkID(userID); err != nil {
		return model.AvailabilityTemplate{}, err
	}

	var tz string
	err := r.pool.QueryRow(ctx, `SELECT timezone FROM user_settings WHERE user_id = $1`, userID).Scan(&tz)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return model.AvailabilityTemplate{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT weekday, start_time, end_time, enabled
		FROM availability_rules
		WHERE user_id = $1
		ORDER BY weekday
	`, userID)
	if err != nil {
		return model.AvailabilityTemplate{}, err
	}
	defer rows.Close()

	var rules []ruleRow
	for rows.Next() {
		var rr ruleRow
		if err := rows.Scan(&rr.Weekday, &rr.Start, &rr.End, &rr.Enabled); err != nil {
			return model.AvailabilityTemplate{}, err
		}
		rules = append(rules, rr)
	}
	if err := rows.Err(); err != nil {
		return model.AvailabilityTemplate{}, err
	}
	return buildTemplate(tz, rules), nil
}

// buildTemplate falls back to UTC for an empty or unknown timezone and
// ignores weekdays outside 0..6.
func buildTemplate(tz string, rules []ruleRow) model.AvailabilityTemplate {
	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	tpl := model.AvailabilityTemplate{Location: loc, Days: make(map[time.Weekday]model.DayWindow, len(rules))}
	for _, rr := range rules {
		if rr.Weekday < 0 || rr.Weekday > 6 {
			continue
		}
		tpl.Days[time.Weekday(rr.Weekday)] = model.DayWindow{Start: rr.Start, End: rr.End, Enabled: rr.Enabled}
	}
	return tpl
}
