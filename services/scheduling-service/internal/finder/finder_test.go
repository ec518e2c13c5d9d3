package finder

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/model"
)

// 2026-02-02 is a Monday.
func at(day, h, m int) time.Time {
	return time.Date(2026, 2, 2+day, h, m, 0, 0, time.UTC)
}

func TestWindow(t *testing.T) {
	start, end := Window(at(0, 17, 0), 1)
	if !start.Equal(at(1, 0, 0)) || !end.Equal(at(2, 0, 0)) {
		t.Fatalf("expected next-day window, got %s..%s", start, end)
	}
	start, end = Window(at(0, 16, 59), 0)
	if !start.Equal(at(0, 16, 59)) || !end.Equal(at(7, 0, 0)) {
		t.Fatalf("expected 7-day default window, got %s..%s", start, end)
	}
	_, end = Window(at(0, 9, 0), 30)
	if !end.Equal(at(8, 0, 0)) {
		t.Fatalf("expected window capped at 8 days, got %s", end)
	}
}

func TestGrid(t *testing.T) {
	grid := Grid(at(0, 7, 10), at(2, 0, 0))
	if len(grid) != 80 {
		t.Fatalf("expected 40 instants per day over 2 days, got %d", len(grid))
	}
	if !grid[0].Equal(at(0, 8, 0)) || !grid[39].Equal(at(0, 17, 45)) || !grid[40].Equal(at(1, 8, 0)) {
		t.Fatalf("unexpected grid edges %s %s %s", grid[0], grid[39], grid[40])
	}

	grid = Grid(at(0, 9, 7), at(0, 10, 0))
	if len(grid) != 3 || !grid[0].Equal(at(0, 9, 15)) {
		t.Fatalf("expected grid to start at the next quarter hour, got %v", grid)
	}
}

func TestScore(t *testing.T) {
	now := at(0, 8, 0)
	cases := []struct {
		name  string
		start time.Time
		want  float64
	}{
		{"monday 10:00 today", at(0, 10, 0), 205},
		{"tuesday 08:45 tomorrow", at(1, 8, 45), 90},
		{"wednesday 16:00", at(2, 16, 0), 135},
		{"thursday 09:00", at(3, 9, 0), 135},
		{"friday 13:30", at(4, 13, 30), 132},
		{"next monday 14:00", at(7, 14, 0), 171},
	}
	for _, tc := range cases {
		if got := Score(tc.start, now); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestFindBestSlots_Diversity(t *testing.T) {
	now := at(0, 8, 0)
	got := FindBestSlots(nil, now, 1, now)

	for _, d := range Durations {
		slots := got[d]
		if len(slots) != 3 {
			t.Fatalf("%d min: expected 3 slots, got %d", d, len(slots))
		}
		want := []time.Time{at(0, 10, 0), at(0, 11, 0), at(0, 14, 0)}
		for i := range want {
			if !slots[i].Start.Equal(want[i]) {
				t.Fatalf("%d min: slot %d expected %s, got %s", d, i, want[i].Format("15:04"), slots[i].Start.Format("15:04"))
			}
			if slots[i].End.Sub(slots[i].Start) != time.Duration(d)*time.Minute {
				t.Fatalf("%d min: unexpected slot length %s", d, slots[i].End.Sub(slots[i].Start))
			}
		}
		hours := map[int]bool{}
		for _, s := range slots {
			hours[s.Start.Hour()] = true
		}
		if len(hours) < 2 {
			t.Fatalf("%d min: all suggestions share one hour", d)
		}
	}
}

func TestFindBestSlots_BackfillAndIndependentBuckets(t *testing.T) {
	now := at(0, 8, 0)
	busy := Calendar{UserID: "a", Events: []interval.Interval{
		{Start: at(0, 8, 0), End: at(0, 10, 0)},
		{Start: at(0, 10, 45), End: at(0, 18, 0)},
	}}
	got := FindBestSlots([]Calendar{busy}, now, 1, now)

	fifteen := got[15]
	want := []time.Time{at(0, 10, 0), at(0, 10, 30), at(0, 10, 15)}
	if len(fifteen) != len(want) {
		t.Fatalf("expected %d fifteen-minute slots, got %d", len(want), len(fifteen))
	}
	for i := range want {
		if !fifteen[i].Start.Equal(want[i]) {
			t.Fatalf("slot %d: expected %s, got %s", i, want[i].Format("15:04"), fifteen[i].Start.Format("15:04"))
		}
	}
	if len(got[30]) != 2 {
		t.Fatalf("expected 2 thirty-minute slots, got %d", len(got[30]))
	}
	if len(got[60]) != 0 {
		t.Fatalf("expected no hour-long slot, got %v", got[60])
	}
}

func TestFindBestSlots_AllAttendeesMustBeFree(t *testing.T) {
	now := at(0, 8, 0)
	calendars := []Calendar{
		{UserID: "a", Events: []interval.Interval{{Start: at(0, 10, 0), End: at(0, 11, 0)}}},
		{UserID: "b", Events: []interval.Interval{{Start: at(0, 11, 0), End: at(0, 12, 0)}, {Start: at(0, 14, 0), End: at(0, 14, 30)}}},
	}
	got := FindBestSlots(calendars, now, 1, now)
	for _, d := range Durations {
		for _, s := range got[d] {
			slot := interval.Interval{Start: s.Start, End: s.End}
			for _, c := range calendars {
				if interval.OverlapsAny(slot, c.Events) {
					t.Fatalf("%d min slot %s collides with %s", d, s.Start.Format("15:04"), c.UserID)
				}
			}
		}
	}
	// 14:30 is free for both but loses to 15:00 on the minute bonus.
	if !got[60][0].Start.Equal(at(0, 15, 0)) {
		t.Fatalf("expected 15:00 as best hour-long slot, got %s", got[60][0].Start.Format("15:04"))
	}
}

func TestFindBestSlots_EveningStartMovesToNextDay(t *testing.T) {
	search := at(0, 17, 30)
	got := FindBestSlots(nil, search, 1, search)
	for _, d := range Durations {
		for _, s := range got[d] {
			if s.Start.Day() != 3 {
				t.Fatalf("expected Tuesday suggestions, got %s", s.Start)
			}
		}
	}
}

func TestRank_RespectsBusinessEnd(t *testing.T) {
	now := at(0, 8, 0)
	ranked := rank(Grid(at(0, 8, 0), at(1, 0, 0)), nil, time.Hour, now)
	if len(ranked) != 37 {
		t.Fatalf("expected 37 hour-long candidates from 08:00 to 17:00, got %d", len(ranked))
	}
	for i, s := range ranked {
		if s.End.After(at(0, 18, 0)) {
			t.Fatalf("candidate %s ends after 18:00", s.Start.Format("15:04"))
		}
		if i > 0 && ranked[i-1].Score < s.Score {
			t.Fatalf("candidates not sorted by score")
		}
	}
}

func TestPickDiverse_Empty(t *testing.T) {
	if got := pickDiverse(nil); len(got) != 0 {
		t.Fatalf("expected no picks, got %v", got)
	}
	one := []model.TimeSlot{{Start: at(0, 9, 0), End: at(0, 9, 15), Score: 1}}
	if got := pickDiverse(one); len(got) != 1 {
		t.Fatalf("expected 1 pick, got %d", len(got))
	}
}

type busyByUser struct {
	mu      sync.Mutex
	byUser  map[string][]interval.Interval
	windows []interval.Interval
}

func (b *busyByUser) BusyIntervals(_ context.Context, userID string, start, end time.Time) []interval.Interval {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.windows = append(b.windows, interval.Interval{Start: start, End: end})
	return b.byUser[userID]
}

type runRecorder struct {
	attendees int
	found     map[int]int
}

func (r *runRecorder) ObserveFinderRun(attendees int, _ time.Duration, found map[int]int) {
	r.attendees = attendees
	r.found = found
}

func TestService_FindForUsers(t *testing.T) {
	busy := &busyByUser{byUser: map[string][]interval.Interval{
		"alice": {{Start: at(1, 8, 0), End: at(1, 12, 0)}},
		"bob":   {{Start: at(1, 12, 0), End: at(1, 18, 0)}},
	}}
	rec := &runRecorder{}
	svc := NewService(busy, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(func() time.Time { return at(0, 18, 0) }),
		WithRecorder(rec),
	)

	got := svc.FindForUsers(context.Background(), []string{"alice", "bob"}, at(0, 18, 0), 1)
	for _, d := range Durations {
		if len(got[d]) != 0 {
			t.Fatalf("%d min: expected no common free time, got %v", d, got[d])
		}
	}
	if len(busy.windows) != 2 {
		t.Fatalf("expected one busy lookup per attendee, got %d", len(busy.windows))
	}
	for _, w := range busy.windows {
		if !w.Start.Equal(at(1, 0, 0)) || !w.End.Equal(at(2, 0, 0)) {
			t.Fatalf("expected normalised window, got %s..%s", w.Start, w.End)
		}
	}
	if rec.attendees != 2 || rec.found[60] != 0 {
		t.Fatalf("unexpected recorded run %+v", rec)
	}
}
