// Package jobs turns scheduling request events into computed results.
package jobs

import (
	"time"

	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/finder"
)

const (
	TopicSuggestionsRequested = "scheduling.suggestions.requested.v1"
	TopicSuggestionsComputed  = "scheduling.suggestions.computed.v1"
	TopicSlotsRequested       = "scheduling.slots.requested.v1"
	TopicSlotsComputed        = "scheduling.slots.computed.v1"
	TopicDayViewRequested     = "scheduling.dayview.requested.v1"
	TopicDayViewComputed      = "scheduling.dayview.computed.v1"
	TopicAccountUpdated       = "calendar.account.updated.v1"
)

type SuggestionsRequested struct {
	RequestID   string    `json:"request_id"`
	UserIDs     []string  `json:"user_ids"`
	SearchStart time.Time `json:"search_start"`
	Days        int       `json:"days"`
}

type SuggestionsComputed struct {
	RequestID   string             `json:"request_id"`
	Suggestions finder.Suggestions `json:"suggestions"`
}

type SlotsRequested struct {
	RequestID       string    `json:"request_id"`
	UserID          string    `json:"user_id"`
	RangeStart      time.Time `json:"range_start"`
	RangeEnd        time.Time `json:"range_end"`
	DurationMinutes int       `json:"duration_minutes"`
}

type SlotsComputed struct {
	RequestID string      `json:"request_id"`
	UserID    string      `json:"user_id"`
	Slots     []time.Time `json:"slots"`
	Error     string      `json:"error,omitempty"`
}

// DayViewRequested asks for one calendar day. TimeZone picks the day
// boundaries and defaults to UTC.
type DayViewRequested struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	Date      string `json:"date"`
	TimeZone  string `json:"time_zone,omitempty"`
}

type DayViewComputed struct {
	RequestID string     `json:"request_id"`
	UserID    string     `json:"user_id"`
	Date      string     `json:"date"`
	Entries   []DayEntry `json:"entries"`
	Error     string     `json:"error,omitempty"`
}

// DayEntry is a lone event or, when Events has more than one item, a
// conflict group spanning Start to End.
type DayEntry struct {
	Start  time.Time    `json:"start"`
	End    time.Time    `json:"end"`
	Events []EventBlock `json:"events"`
}

type EventBlock struct {
	ID            string    `json:"id"`
	SourceEventID string    `json:"source_event_id"`
	Title         string    `json:"title"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Synthetic     bool      `json:"synthetic,omitempty"`
}

type AccountUpdated struct {
	UserID   string `json:"user_id"`
	Provider string `json:"provider,omitempty"`
}
