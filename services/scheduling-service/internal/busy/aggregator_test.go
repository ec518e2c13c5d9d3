package busy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/providers"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/recurrence"
)

var day = time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	events []model.EventTemplate
	err    error

	gotExclude bool
}

func (s *fakeStore) FindEvents(_ context.Context, _ string, _ interval.Interval, excludeCancelled bool) ([]model.EventTemplate, error) {
	s.gotExclude = excludeCancelled
	return s.events, s.err
}

type fakeProvider struct {
	source    model.BusySource
	intervals []interval.Interval
	err       error
	block     bool
	panics    bool
}

func (p *fakeProvider) Source() model.BusySource { return p.source }

func (p *fakeProvider) FetchBusy(ctx context.Context, _ string, _, _ time.Time) ([]interval.Interval, error) {
	if p.panics {
		panic("client bug")
	}
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return p.intervals, p.err
}

type recorder struct {
	mu   sync.Mutex
	seen map[model.BusySource]error
}

func (r *recorder) ObserveFetch(source model.BusySource, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = map[model.BusySource]error{}
	}
	r.seen[source] = err
}

func event(id string, startH, endH int) model.EventTemplate {
	return model.EventTemplate{
		ID:        id,
		StartTime: day.Add(time.Duration(startH) * time.Hour),
		EndTime:   day.Add(time.Duration(endH) * time.Hour),
	}
}

func TestBusyIntervals_FaultIsolation(t *testing.T) {
	store := &fakeStore{events: []model.EventTemplate{event("a", 9, 10), event("b", 13, 14)}}
	google := &fakeProvider{source: model.SourceGoogle, intervals: []interval.Interval{
		{Start: day.Add(15 * time.Hour), End: day.Add(16 * time.Hour)},
	}}

	healthy := New(store, recurrence.New(quietLogger()), quietLogger(), WithProvider(google))
	want := healthy.BusyIntervals(context.Background(), "u1", day, day.Add(24*time.Hour))
	if len(want) != 3 {
		t.Fatalf("expected 3 intervals with all sources healthy, got %d", len(want))
	}
	if !store.gotExclude {
		t.Fatalf("expected cancelled events to be excluded at the store")
	}

	failing := &fakeProvider{source: model.SourceICS, err: errors.New("feed returned 500")}
	panicking := &fakeProvider{source: model.SourceICS, panics: true}
	rec := &recorder{}
	degraded := New(store, recurrence.New(quietLogger()), quietLogger(),
		WithProvider(failing),
		WithProvider(panicking),
		WithRecorder(rec),
	)
	got := degraded.BusyIntervals(context.Background(), "u1", day, day.Add(24*time.Hour))
	if len(got) != 2 {
		t.Fatalf("expected only the 2 internal intervals, got %d", len(got))
	}
	for i := range got {
		if !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) {
			t.Fatalf("internal interval %d changed: got %+v want %+v", i, got[i], want[i])
		}
	}
	if rec.seen[model.SourceInternal] != nil {
		t.Fatalf("expected internal fetch to succeed, got %v", rec.seen[model.SourceInternal])
	}
	if rec.seen[model.SourceICS] == nil {
		t.Fatalf("expected ics failure to be recorded")
	}
}

func TestBusyIntervals_StoreFailureStillReturnsProviders(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	google := &fakeProvider{source: model.SourceGoogle, intervals: []interval.Interval{
		{Start: day.Add(11 * time.Hour), End: day.Add(12 * time.Hour)},
	}}
	a := New(store, nil, quietLogger(), WithProvider(google))
	got := a.BusyIntervals(context.Background(), "u1", day, day.Add(24*time.Hour))
	if len(got) != 1 {
		t.Fatalf("expected provider interval despite store failure, got %d", len(got))
	}

	if got := New(store, nil, quietLogger()).BusyIntervals(context.Background(), "u1", day, day.Add(24*time.Hour)); len(got) != 0 {
		t.Fatalf("expected empty result, got %d", len(got))
	}
}

func TestOutcomes_TimeoutAndValidation(t *testing.T) {
	slow := &fakeProvider{source: model.SourceGoogle, block: true}
	messy := &fakeProvider{source: model.SourceICS, intervals: []interval.Interval{
		{Start: day.Add(9 * time.Hour), End: day.Add(9 * time.Hour)},
		{Start: day.Add(11 * time.Hour), End: day.Add(10 * time.Hour)},
		{Start: day.Add(12 * time.Hour), End: day.Add(13 * time.Hour)},
	}}
	a := New(&fakeStore{}, nil, quietLogger(),
		WithProvider(slow),
		WithProvider(messy),
		WithSourceTimeout(50*time.Millisecond),
	)

	outcomes := a.Outcomes(context.Background(), "u1", day, day.Add(24*time.Hour))
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Source != model.SourceInternal || outcomes[1].Source != model.SourceGoogle || outcomes[2].Source != model.SourceICS {
		t.Fatalf("unexpected outcome order %v %v %v", outcomes[0].Source, outcomes[1].Source, outcomes[2].Source)
	}
	if !errors.Is(outcomes[1].Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded for slow provider, got %v", outcomes[1].Err)
	}
	if len(outcomes[2].Intervals) != 1 {
		t.Fatalf("expected invalid intervals to be dropped, got %d", len(outcomes[2].Intervals))
	}
}

func TestInstances_ExpandsRecurringAndFiltersWindow(t *testing.T) {
	weekly := model.EventTemplate{
		ID:         "weekly",
		StartTime:  time.Date(2026, 1, 7, 23, 0, 0, 0, time.UTC), // Wednesday
		EndTime:    time.Date(2026, 1, 8, 1, 0, 0, 0, time.UTC),
		Recurrence: model.ParseRecurrence("WEEKLY"),
	}
	outside := event("outside", -5, -4)
	cancelled := event("cancelled", 10, 11)
	cancelled.Status = model.StatusCancelled

	store := &fakeStore{events: []model.EventTemplate{weekly, outside, cancelled, event("inside", 9, 10)}}

	// Thursday 2026-01-29: only the tail of Wednesday's late occurrence reaches in.
	thursday := interval.Interval{Start: day.Add(24 * time.Hour), End: day.Add(48 * time.Hour)}
	got, err := Instances(context.Background(), store, recurrence.New(quietLogger()), "u1", thursday)
	if err != nil {
		t.Fatalf("instances: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 instance, got %d: %+v", len(got), got)
	}
	if !got[0].Synthetic || got[0].SourceEventID != "weekly" {
		t.Fatalf("expected spill-over weekly occurrence, got %+v", got[0])
	}

	wednesday := interval.Interval{Start: day, End: day.Add(24 * time.Hour)}
	got, err = Instances(context.Background(), store, recurrence.New(quietLogger()), "u1", wednesday)
	if err != nil {
		t.Fatalf("instances: %v", err)
	}
	if len(got) != 2 || got[0].ID != "inside" || got[1].SourceEventID != "weekly" {
		t.Fatalf("unexpected instances %+v", got)
	}
}

func TestBusyIntervals_BadRecurrenceKeepsStoredMeeting(t *testing.T) {
	for _, raw := range []string{"FORTNIGHTLY", "FREQ=BOGUS"} {
		ev := event("m1", 10, 11)
		ev.Recurrence = model.ParseRecurrence(raw)
		agg := New(&fakeStore{events: []model.EventTemplate{ev}}, recurrence.New(quietLogger()), quietLogger())

		got := agg.BusyIntervals(context.Background(), "u1", day, day.Add(24*time.Hour))
		if len(got) != 1 || !got[0].Start.Equal(day.Add(10*time.Hour)) || !got[0].End.Equal(day.Add(11*time.Hour)) {
			t.Fatalf("recurrence %q: expected 10:00-11:00 busy, got %+v", raw, got)
		}

		got = agg.BusyIntervals(context.Background(), "u1", day.Add(24*time.Hour), day.Add(48*time.Hour))
		if len(got) != 0 {
			t.Fatalf("recurrence %q: expected nothing the next day, got %+v", raw, got)
		}
	}
}

func TestBusyIntervals_LogsRateLimitedSourceSeparately(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	limited := &fakeProvider{source: model.SourceGoogle, err: fmt.Errorf("%w (google, 60 calls per 1m0s)", providers.ErrRateLimited)}
	down := &fakeProvider{source: model.SourceICS, err: errors.New("connection refused")}
	a := New(&fakeStore{}, nil, logger, WithProvider(limited), WithProvider(down))

	if got := a.BusyIntervals(context.Background(), "u-7", day, day.Add(24*time.Hour)); len(got) != 0 {
		t.Fatalf("expected no busy time, got %+v", got)
	}

	msgs := map[string]map[string]any{}
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		if src, ok := rec["source"].(string); ok {
			msgs[src] = rec
		}
	}
	g := msgs["google"]
	if g == nil || g["level"] != "WARN" || g["msg"] != "busy source over call budget; treating as free" || g["user_id"] != "u-7" {
		t.Fatalf("unexpected rate limit log %v", g)
	}
	i := msgs["ics"]
	if i == nil || i["msg"] != "busy source failed; treating as free" || i["user_id"] != "u-7" {
		t.Fatalf("unexpected outage log %v", i)
	}
}
