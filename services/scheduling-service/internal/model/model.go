package model

import (
	"time"

	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/interval"
)

// BusySource identifies where a busy interval came from. Diagnostics only.
type BusySource string

const (
	SourceInternal BusySource = "internal"
	SourceGoogle   BusySource = "google"
	SourceICS      BusySource = "ics"
)

const StatusCancelled = "cancelled"

// DayWindow is one weekday entry of an availability template. Start and End are "HH:MM".
type DayWindow struct {
	Start   string
	End     string
	Enabled bool
}

// AvailabilityTemplate maps a weekday to its bookable window, interpreted in Location.
type AvailabilityTemplate struct {
	Location *time.Location
	Days     map[time.Weekday]DayWindow
}

func (t AvailabilityTemplate) Loc() *time.Location {
	if t.Location == nil {
		return time.UTC
	}
	return t.Location
}

type EventTemplate struct {
	ID         string
	OwnerID    string
	Title      string
	StartTime  time.Time
	EndTime    time.Time
	Recurrence Recurrence
	Status     string
}

func (e EventTemplate) Duration() time.Duration {
	return e.EndTime.Sub(e.StartTime)
}

func (e EventTemplate) Cancelled() bool {
	return e.Status == StatusCancelled
}

type EventInstance struct {
	ID            string
	SourceEventID string
	Title         string
	Start         time.Time
	End           time.Time
	Synthetic     bool
}

func (e EventInstance) Interval() interval.Interval {
	return interval.Interval{Start: e.Start, End: e.End}
}

// InstanceFromTemplate wraps a non-recurring event as its own instance.
func InstanceFromTemplate(e EventTemplate) EventInstance {
	return EventInstance{
		ID:            e.ID,
		SourceEventID: e.ID,
		Title:         e.Title,
		Start:         e.StartTime,
		End:           e.EndTime,
	}
}

type TimeSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Score float64   `json:"score"`
}
