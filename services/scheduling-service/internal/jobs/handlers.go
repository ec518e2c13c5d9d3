package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/conflicts"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/finder"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/model"
)

type SuggestionFinder interface {
	FindForUsers(ctx context.Context, userIDs []string, searchStart time.Time, days int) finder.Suggestions
}

type SlotGenerator interface {
	GenerateSlots(ctx context.Context, userID string, rangeStart, rangeEnd time.Time, durationMinutes int) ([]time.Time, error)
}

type InstanceSource interface {
	Instances(ctx context.Context, userID string, window interval.Interval) ([]model.EventInstance, error)
}

type CacheInvalidator interface {
	Invalidate(ctx context.Context, userID string) (int, error)
}

type Emitter interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

type SlotRecorder interface {
	ObserveSlots(n int)
}

// Handlers holds the dependencies of every job. Nil dependencies disable the
// matching job's side effects.
type Handlers struct {
	Finder    SuggestionFinder
	Slots     SlotGenerator
	Instances InstanceSource
	Cache     CacheInvalidator
	Emitter   Emitter
	Recorder  SlotRecorder
	Logger    *slog.Logger
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// decode reports false for payloads that can never succeed; those are logged
// and acknowledged.
func (h *Handlers) decode(msg kafka.Message, v any) bool {
	if err := json.Unmarshal(msg.Value, v); err != nil {
		h.logger().Warn("invalid payload dropped", "topic", msg.Topic, "err", err)
		return false
	}
	return true
}

func (h *Handlers) Suggestions(ctx context.Context, msg kafka.Message) error {
	var req SuggestionsRequested
	if !h.decode(msg, &req) {
		return nil
	}
	if len(req.UserIDs) == 0 || req.SearchStart.IsZero() {
		h.logger().Warn("suggestion request incomplete", "request_id", req.RequestID)
		return nil
	}

	found := h.Finder.FindForUsers(ctx, req.UserIDs, req.SearchStart, req.Days)
	return h.Emitter.Publish(ctx, TopicSuggestionsComputed, req.RequestID, SuggestionsComputed{
		RequestID:   req.RequestID,
		Suggestions: found,
	})
}

func (h *Handlers) AvailableSlots(ctx context.Context, msg kafka.Message) error {
	var req SlotsRequested
	if !h.decode(msg, &req) {
		return nil
	}
	if req.UserID == "" {
		h.logger().Warn("slot request without user", "request_id", req.RequestID)
		return nil
	}

	out := SlotsComputed{RequestID: req.RequestID, UserID: req.UserID}
	slots, err := h.Slots.GenerateSlots(ctx, req.UserID, req.RangeStart, req.RangeEnd, req.DurationMinutes)
	switch {
	case errors.Is(err, availability.ErrInvalidDuration):
		out.Error = err.Error()
	case err != nil:
		return err
	default:
		out.Slots = slots
	}
	if out.Slots == nil {
		out.Slots = []time.Time{}
	}
	if h.Recorder != nil {
		h.Recorder.ObserveSlots(len(out.Slots))
	}
	return h.Emitter.Publish(ctx, TopicSlotsComputed, req.UserID, out)
}

func (h *Handlers) DayView(ctx context.Context, msg kafka.Message) error {
	var req DayViewRequested
	if !h.decode(msg, &req) {
		return nil
	}
	if req.UserID == "" {
		h.logger().Warn("day view request without user", "request_id", req.RequestID)
		return nil
	}

	out := DayViewComputed{RequestID: req.RequestID, UserID: req.UserID, Date: req.Date, Entries: []DayEntry{}}
	day, err := parseDay(req.Date, req.TimeZone)
	if err != nil {
		out.Error = err.Error()
		return h.Emitter.Publish(ctx, TopicDayViewComputed, req.UserID, out)
	}

	window := interval.Interval{Start: day, End: day.AddDate(0, 0, 1)}
	events, err := h.Instances.Instances(ctx, req.UserID, window)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	for _, e := range conflicts.Day(events, day) {
		out.Entries = append(out.Entries, dayEntry(e))
	}
	return h.Emitter.Publish(ctx, TopicDayViewComputed, req.UserID, out)
}

func (h *Handlers) AccountUpdated(ctx context.Context, msg kafka.Message) error {
	var ev AccountUpdated
	if !h.decode(msg, &ev) {
		return nil
	}
	if ev.UserID == "" || h.Cache == nil {
		return nil
	}
	n, err := h.Cache.Invalidate(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("invalidate busy cache: %w", err)
	}
	h.logger().Info("busy cache invalidated", "user_id", ev.UserID, "provider", ev.Provider, "keys", n)
	return nil
}

func parseDay(date, tz string) (time.Time, error) {
	loc := time.UTC
	if tz = strings.TrimSpace(tz); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, fmt.Errorf("unknown time zone %q", tz)
		}
		loc = l
	}
	day, err := time.ParseInLocation(time.DateOnly, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", date)
	}
	return day, nil
}

func dayEntry(e conflicts.Entry) DayEntry {
	if e.Group == nil {
		return DayEntry{Start: e.Event.Start, End: e.Event.End, Events: []EventBlock{block(*e.Event)}}
	}
	out := DayEntry{Start: e.Group.Start, End: e.Group.End}
	for _, ev := range e.Group.Events {
		out.Events = append(out.Events, block(ev))
	}
	return out
}

func block(e model.EventInstance) EventBlock {
	return EventBlock{
		ID:            e.ID,
		SourceEventID: e.SourceEventID,
		Title:         e.Title,
		Start:         e.Start,
		End:           e.End,
		Synthetic:     e.Synthetic,
	}
}
