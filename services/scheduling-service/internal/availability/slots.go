package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/model"
)

// Stride is the spacing between candidate slot starts, independent of duration.
const Stride = 30 * time.Minute

var ErrInvalidDuration = errors.New("availability: duration must be positive")

type TemplateStore interface {
	GetTemplate(ctx context.Context, userID string) (model.AvailabilityTemplate, error)
}

type BusySource interface {
	BusyIntervals(ctx context.Context, userID string, start, end time.Time) []interval.Interval
}

type Generator struct {
	templates TemplateStore
	busy      BusySource
	logger    *slog.Logger
}

func NewGenerator(templates TemplateStore, busy BusySource, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{templates: templates, busy: busy, logger: logger}
}

// GenerateSlots returns the start times of free slots of durationMinutes for
// userID inside [rangeStart, rangeEnd), ascending. Only a failed template
// lookup is an error; unavailable calendars count as free.
func (g *Generator) GenerateSlots(ctx context.Context, userID string, rangeStart, rangeEnd time.Time, durationMinutes int) ([]time.Time, error) {
	if durationMinutes <= 0 {
		return nil, ErrInvalidDuration
	}
	if !rangeEnd.After(rangeStart) {
		return nil, nil
	}

	tpl, err := g.templates.GetTemplate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load availability template: %w", err)
	}
	if !hasEnabledDay(tpl) {
		return nil, nil
	}
	for _, wd := range InvalidDays(tpl) {
		g.logger.Warn("availability day ignored", "user_id", userID, "weekday", wd.String())
	}

	busy := g.busy.BusyIntervals(ctx, userID, rangeStart, rangeEnd)
	return Slots(tpl, busy, rangeStart, rangeEnd, time.Duration(durationMinutes)*time.Minute), nil
}

// Slots walks each calendar day of [rangeStart, rangeEnd) in the template's
// location. A slot is kept when it ends at or before the day's end, lies
// inside the range and overlaps no busy interval.
func Slots(tpl model.AvailabilityTemplate, busy []interval.Interval, rangeStart, rangeEnd time.Time, duration time.Duration) []time.Time {
	if duration <= 0 || !rangeEnd.After(rangeStart) {
		return nil
	}
	loc := tpl.Loc()

	var slots []time.Time
	first := rangeStart.In(loc)
	for d := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc); d.Before(rangeEnd); d = time.Date(d.Year(), d.Month(), d.Day()+1, 0, 0, 0, 0, loc) {
		w, ok := tpl.Days[d.Weekday()]
		if !ok || !w.Enabled {
			continue
		}
		dayStart, dayEnd, err := window(d, w)
		if err != nil {
			continue
		}
		for t := dayStart; !t.Add(duration).After(dayEnd); t = t.Add(Stride) {
			slot := interval.Interval{Start: t, End: t.Add(duration)}
			if t.Before(rangeStart) || slot.End.After(rangeEnd) {
				continue
			}
			if interval.OverlapsAny(slot, busy) {
				continue
			}
			slots = append(slots, t)
		}
	}
	return slots
}

// InvalidDays lists enabled weekdays whose window cannot be parsed or is empty.
func InvalidDays(tpl model.AvailabilityTemplate) []time.Weekday {
	var out []time.Weekday
	ref := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		w, ok := tpl.Days[wd]
		if !ok || !w.Enabled {
			continue
		}
		if _, _, err := window(ref, w); err != nil {
			out = append(out, wd)
		}
	}
	return out
}

func hasEnabledDay(tpl model.AvailabilityTemplate) bool {
	for _, w := range tpl.Days {
		if w.Enabled {
			return true
		}
	}
	return false
}

func window(d time.Time, w model.DayWindow) (time.Time, time.Time, error) {
	startOff, err := ParseClock(w.Start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	endOff, err := ParseClock(w.End)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if endOff <= startOff {
		return time.Time{}, time.Time{}, fmt.Errorf("window %s-%s is empty", w.Start, w.End)
	}
	at := func(off time.Duration) time.Time {
		return time.Date(d.Year(), d.Month(), d.Day(), int(off/time.Hour), int(off%time.Hour/time.Minute), 0, 0, d.Location())
	}
	return at(startOff), at(endOff), nil
}

// ParseClock parses "HH:MM" into an offset from midnight. "24:00" means end of day.
func ParseClock(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "24:00" {
		return 24 * time.Hour, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
