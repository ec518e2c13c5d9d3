// Package conflicts clusters overlapping events for calendar rendering.
package conflicts

import (
	"sort"
	"time"

	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/model"
)

// Group is two or more events chained together by overlaps.
type Group struct {
	Events []model.EventInstance `json:"events"`
	Start  time.Time             `json:"start"`
	End    time.Time             `json:"end"`
}

// Entry holds either a lone event or a Group, never both.
type Entry struct {
	Event *model.EventInstance `json:"event,omitempty"`
	Group *Group               `json:"group,omitempty"`
}

func (e Entry) Start() time.Time {
	if e.Group != nil {
		return e.Group.Start
	}
	return e.Event.Start
}

// GroupOverlaps sorts events by start and sweeps them into clusters. An event
// joins the current cluster when it overlaps the cluster's envelope, so
// grouping is transitive.
func GroupOverlaps(events []model.EventInstance) []Entry {
	if len(events) == 0 {
		return nil
	}
	sorted := make([]model.EventInstance, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	var (
		out     []Entry
		cluster []model.EventInstance
		env     interval.Interval
	)
	flush := func() {
		switch len(cluster) {
		case 0:
		case 1:
			ev := cluster[0]
			out = append(out, Entry{Event: &ev})
		default:
			out = append(out, Entry{Group: &Group{Events: cluster, Start: env.Start, End: env.End}})
		}
		cluster = nil
	}

	for _, ev := range sorted {
		if len(cluster) > 0 && interval.Overlaps(ev.Interval(), env) {
			cluster = append(cluster, ev)
			if ev.End.After(env.End) {
				env.End = ev.End
			}
			continue
		}
		flush()
		cluster = []model.EventInstance{ev}
		env = ev.Interval()
	}
	flush()
	return out
}

// Day groups the events that overlap the calendar day containing day, in day's location.
func Day(events []model.EventInstance, day time.Time) []Entry {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	window := interval.Interval{Start: start, End: start.AddDate(0, 0, 1)}

	var inDay []model.EventInstance
	for _, ev := range events {
		if interval.Overlaps(ev.Interval(), window) {
			inDay = append(inDay, ev)
		}
	}
	return GroupOverlaps(inDay)
}
