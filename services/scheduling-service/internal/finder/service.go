package finder

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/interval"
)

type BusySource interface {
	BusyIntervals(ctx context.Context, userID string, start, end time.Time) []interval.Interval
}

type RunRecorder interface {
	ObserveFinderRun(attendees int, elapsed time.Duration, found map[int]int)
}

type Service struct {
	busy     BusySource
	logger   *slog.Logger
	now      func() time.Time
	recorder RunRecorder
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithRecorder(r RunRecorder) Option {
	return func(s *Service) { s.recorder = r }
}

func NewService(busy BusySource, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{busy: busy, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindForUsers loads every attendee's busy time concurrently, then ranks
// candidate slots for all of them at once.
func (s *Service) FindForUsers(ctx context.Context, userIDs []string, searchStart time.Time, days int) Suggestions {
	began := time.Now()
	start, end := Window(searchStart, days)

	calendars := make([]Calendar, len(userIDs))
	var g errgroup.Group
	for i, id := range userIDs {
		g.Go(func() error {
			calendars[i] = Calendar{UserID: id, Events: s.busy.BusyIntervals(ctx, id, start, end)}
			return nil
		})
	}
	_ = g.Wait()

	out := FindBestSlots(calendars, searchStart, days, s.now())

	found := make(map[int]int, len(out))
	for d, slots := range out {
		found[d] = len(slots)
	}
	elapsed := time.Since(began)
	if s.recorder != nil {
		s.recorder.ObserveFinderRun(len(userIDs), elapsed, found)
	}
	s.logger.Debug("slot search finished",
		"attendees", len(userIDs),
		"window_start", start,
		"window_end", end,
		"found", found,
		"duration_ms", elapsed.Milliseconds(),
	)
	return out
}
