package busy

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/recurrence"
)

var errNoStore = errors.New("internal event store not configured")

type storeSource struct {
	store    EventStore
	expander *recurrence.Expander
}

func (s *storeSource) Source() model.BusySource { return model.SourceInternal }

func (s *storeSource) FetchBusy(ctx context.Context, userID string, start, end time.Time) ([]interval.Interval, error) {
	instances, err := Instances(ctx, s.store, s.expander, userID, interval.Interval{Start: start, End: end})
	if err != nil {
		return nil, err
	}
	out := make([]interval.Interval, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst.Interval())
	}
	return out, nil
}

// Instances returns the owner's non-cancelled event instances overlapping
// window, with recurring templates expanded. Output is ordered by start.
func Instances(ctx context.Context, store EventStore, expander *recurrence.Expander, ownerID string, window interval.Interval) ([]model.EventInstance, error) {
	if store == nil {
		return nil, errNoStore
	}
	templates, err := store.FindEvents(ctx, ownerID, window, true)
	if err != nil {
		return nil, err
	}

	var (
		out       []model.EventInstance
		recurring []model.EventTemplate
		longest   time.Duration
	)
	for _, ev := range templates {
		if ev.Cancelled() {
			continue
		}
		if ev.Recurrence.Recurring() || ev.Recurrence.Kind == model.RecurrenceInvalid {
			recurring = append(recurring, ev)
			if d := ev.Duration(); d > longest {
				longest = d
			}
			continue
		}
		inst := model.InstanceFromTemplate(ev)
		if interval.Overlaps(inst.Interval(), window) {
			out = append(out, inst)
		}
	}

	// Occurrences that start before the window can still run into it.
	expandFrom := window.Start.Add(-longest)
	for _, ev := range recurring {
		instances, err := expander.ExpandOne(ev, expandFrom, window.End)
		if errors.Is(err, recurrence.ErrUnsupportedRule) {
			// The stored meeting itself still happens.
			instances = []model.EventInstance{model.InstanceFromTemplate(ev)}
		}
		for _, inst := range instances {
			if interval.Overlaps(inst.Interval(), window) {
				out = append(out, inst)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}
