// Package finder ranks meeting start times that are free for every attendee.
package finder

import (
	"sort"
	"time"

	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/model"
)

const (
	DefaultDays = 7
	MaxDays     = 8

	GridStep      = 15 * time.Minute
	BusinessStart = 8  // hour, inclusive
	BusinessEnd   = 18 // hour, exclusive
	cutoffHour    = 17
	perBucket     = 3
	baseScore     = 100.0
)

// Durations are the meeting lengths, in minutes, a search always answers for.
var Durations = []int{15, 30, 60}

// Calendar is one attendee's already expanded busy time.
type Calendar struct {
	UserID string
	Events []interval.Interval
}

// Suggestions maps a duration in minutes to at most three ranked slots.
type Suggestions map[int][]model.TimeSlot

// Window normalises a search request. A start at or after 17:00 moves to
// midnight of the next day; days defaults to 7 and is capped at 8.
func Window(searchStart time.Time, days int) (start, end time.Time) {
	start = searchStart
	if start.Hour() >= cutoffHour {
		start = time.Date(start.Year(), start.Month(), start.Day()+1, 0, 0, 0, 0, start.Location())
	}
	if days <= 0 {
		days = DefaultDays
	}
	if days > MaxDays {
		days = MaxDays
	}
	end = time.Date(start.Year(), start.Month(), start.Day()+days, 0, 0, 0, 0, start.Location())
	return start, end
}

// FindBestSlots returns, per duration, up to three free start times ranked
// by Score and spread across distinct (weekday, hour) pairs. Each bucket is
// computed on its own.
func FindBestSlots(calendars []Calendar, searchStart time.Time, days int, now time.Time) Suggestions {
	start, end := Window(searchStart, days)
	grid := Grid(start, end)

	out := make(Suggestions, len(Durations))
	for _, minutes := range Durations {
		out[minutes] = pickDiverse(rank(grid, calendars, time.Duration(minutes)*time.Minute, now))
	}
	return out
}

// Grid lists every 15-minute aligned instant in [start, end) that falls
// inside business hours, jumping straight over the hours in between.
func Grid(start, end time.Time) []time.Time {
	var out []time.Time
	for t := roundUp(start); t.Before(end); {
		switch {
		case t.Hour() < BusinessStart:
			t = atHour(t, 0, BusinessStart)
		case t.Hour() >= BusinessEnd:
			t = atHour(t, 1, BusinessStart)
		default:
			out = append(out, t)
			t = t.Add(GridStep)
		}
	}
	return out
}

func rank(grid []time.Time, calendars []Calendar, d time.Duration, now time.Time) []model.TimeSlot {
	var slots []model.TimeSlot
	for _, start := range grid {
		candidate := interval.Interval{Start: start, End: start.Add(d)}
		if candidate.End.After(atHour(start, 0, BusinessEnd)) {
			continue
		}
		if anyBusy(candidate, calendars) {
			continue
		}
		slots = append(slots, model.TimeSlot{Start: candidate.Start, End: candidate.End, Score: Score(start, now)})
	}
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Score > slots[j].Score })
	return slots
}

func anyBusy(candidate interval.Interval, calendars []Calendar) bool {
	for _, c := range calendars {
		if interval.OverlapsAny(candidate, c.Events) {
			return true
		}
	}
	return false
}

// Score rates a start time. The result depends only on start and now.
func Score(start, now time.Time) float64 {
	score := baseScore

	hour := start.Hour()
	switch {
	case hour >= 10 && hour < 16:
		score += 50
	case hour == 9 || hour == 16:
		score += 20
	default:
		score -= 30
	}

	switch hour {
	case 10, 11:
		score += 20
	case 14, 15:
		score += 15
	case 13:
		score -= 10
	}

	switch start.Weekday() {
	case time.Monday, time.Tuesday:
		score += 10
	case time.Friday:
		score -= 5
	}

	switch ahead := daysAhead(start, now); {
	case ahead == 0:
		score += 15
	case ahead == 1:
		score += 10
	case ahead <= 3:
		score += 5
	default:
		score -= 2 * float64(ahead)
	}

	switch start.Minute() {
	case 0:
		score += 10
	case 30:
		score += 5
	}
	return score
}

// daysAhead counts calendar days from now to start in start's location.
// Starts before today count as today.
func daysAhead(start, now time.Time) int {
	loc := start.Location()
	n := now.In(loc)
	from := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
	to := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	days := int(to.Sub(from).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

type slotKey struct {
	weekday time.Weekday
	hour    int
}

// pickDiverse takes the best slot for each unused (weekday, hour) until three
// are chosen, then backfills in score order.
func pickDiverse(ranked []model.TimeSlot) []model.TimeSlot {
	picked := make([]model.TimeSlot, 0, perBucket)
	taken := make([]bool, len(ranked))
	used := make(map[slotKey]bool, perBucket)

	for i, s := range ranked {
		if len(picked) == perBucket {
			break
		}
		k := slotKey{s.Start.Weekday(), s.Start.Hour()}
		if len(picked) == 0 || !used[k] {
			picked = append(picked, s)
			taken[i] = true
			used[k] = true
		}
	}
	for i, s := range ranked {
		if len(picked) == perBucket {
			break
		}
		if !taken[i] {
			picked = append(picked, s)
		}
	}
	return picked
}

func roundUp(t time.Time) time.Time {
	step := int(GridStep / time.Minute)
	if t.Minute()%step == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t
	}
	m := (t.Minute()/step + 1) * step
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), m, 0, 0, t.Location())
}

func atHour(t time.Time, dayOffset, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+dayOffset, hour, 0, 0, 0, t.Location())
}
