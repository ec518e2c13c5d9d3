// Package recurrence turns recurring event templates into concrete instances
// inside a query window.
package recurrence

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/model"
)

var (
	ErrUnsupportedRule = errors.New("recurrence: unsupported rule")
	ErrEmptyDuration   = errors.New("recurrence: event does not end after it starts")
)

const DefaultMaxOccurrences = 5000

// ParseRule builds an engine for rule anchored at dtstart. The anchor keeps
// its location so wall-clock time and weekday follow the template.
func ParseRule(rule string, dtstart time.Time) (*rrule.RRule, error) {
	rule = strings.TrimSpace(rule)
	if len(rule) >= len("RRULE:") && strings.EqualFold(rule[:len("RRULE:")], "RRULE:") {
		rule = rule[len("RRULE:"):]
	}
	if rule == "" {
		return nil, ErrUnsupportedRule
	}
	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedRule, err)
	}
	opt.Dtstart = dtstart
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedRule, err)
	}
	return r, nil
}

type Expander struct {
	logger         *slog.Logger
	maxOccurrences int
}

type Option func(*Expander)

// WithMaxOccurrences bounds the instances produced for a single template.
func WithMaxOccurrences(n int) Option {
	return func(e *Expander) {
		if n > 0 {
			e.maxOccurrences = n
		}
	}
}

func New(logger *slog.Logger, opts ...Option) *Expander {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Expander{logger: logger, maxOccurrences: DefaultMaxOccurrences}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand returns every occurrence of the recurring templates whose start falls
// in [windowStart, windowEnd], bounds included. Non-recurring templates are
// ignored. A template that cannot be expanded is skipped and logged.
func (e *Expander) Expand(events []model.EventTemplate, windowStart, windowEnd time.Time) []model.EventInstance {
	var out []model.EventInstance
	for _, ev := range events {
		if ev.Recurrence.Kind == model.RecurrenceNone {
			continue
		}
		instances, err := e.ExpandOne(ev, windowStart, windowEnd)
		if err != nil {
			continue
		}
		out = append(out, instances...)
	}
	return out
}

// ExpandOne expands a single template. It fails with ErrUnsupportedRule when
// the recurrence is unrecognised or its rule does not parse, and with
// ErrEmptyDuration when the template does not end after it starts. Failures
// are logged.
func (e *Expander) ExpandOne(ev model.EventTemplate, windowStart, windowEnd time.Time) ([]model.EventInstance, error) {
	if ev.Recurrence.Kind == model.RecurrenceInvalid {
		e.logger.Warn("unrecognised recurrence skipped", "event_id", ev.ID, "recurrence", ev.Recurrence.Raw)
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedRule, ev.Recurrence.Raw)
	}
	duration := ev.Duration()
	if duration <= 0 {
		e.logger.Warn("recurring event with non-positive duration skipped", "event_id", ev.ID)
		return nil, ErrEmptyDuration
	}

	r, err := ParseRule(ev.Recurrence.Rule(), ev.StartTime)
	if err != nil {
		e.logger.Warn("recurrence rule rejected", "event_id", ev.ID, "rule", ev.Recurrence.Raw, "err", err)
		return nil, err
	}

	occurrences := r.Between(windowStart, windowEnd, true)
	if len(occurrences) > e.maxOccurrences {
		e.logger.Warn("recurrence expansion truncated", "event_id", ev.ID, "occurrences", len(occurrences), "max", e.maxOccurrences)
		occurrences = occurrences[:e.maxOccurrences]
	}

	out := make([]model.EventInstance, 0, len(occurrences))
	for _, occ := range occurrences {
		out = append(out, model.EventInstance{
			ID:            model.SyntheticInstanceID(ev.ID, occ),
			SourceEventID: ev.ID,
			Title:         ev.Title,
			Start:         occ,
			End:           occ.Add(duration),
			Synthetic:     true,
		})
	}
	return out, nil
}
