// Package busy collects a user's busy time from the internal event store and
// every configured calendar provider.
package busy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	otelx "github.com/md-rashed-zaman/teamsched/libs/otel"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/providers"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/recurrence"
)

// EventStore returns the owner's event templates relevant to window: every
// non-recurring event intersecting it and every recurring template anchored
// before its end.
type EventStore interface {
	FindEvents(ctx context.Context, ownerID string, window interval.Interval, excludeCancelled bool) ([]model.EventTemplate, error)
}

// Provider reports busy time from one external calendar.
type Provider interface {
	Source() model.BusySource
	FetchBusy(ctx context.Context, userID string, start, end time.Time) ([]interval.Interval, error)
}

// FetchRecorder observes each source fetch.
type FetchRecorder interface {
	ObserveFetch(source model.BusySource, elapsed time.Duration, err error)
}

// Outcome is the result of one source for one request.
type Outcome struct {
	Source    model.BusySource
	Intervals []interval.Interval
	Err       error
	Elapsed   time.Duration
}

type Aggregator struct {
	store     EventStore
	expander  *recurrence.Expander
	internal  Provider
	providers []Provider
	logger    *slog.Logger
	timeout   time.Duration
	recorder  FetchRecorder
	tracer    trace.Tracer
}

type Option func(*Aggregator)

func WithProvider(p Provider) Option {
	return func(a *Aggregator) {
		if p != nil {
			a.providers = append(a.providers, p)
		}
	}
}

// WithSourceTimeout bounds each source fetch. Zero means no bound.
func WithSourceTimeout(d time.Duration) Option {
	return func(a *Aggregator) { a.timeout = d }
}

func WithRecorder(r FetchRecorder) Option {
	return func(a *Aggregator) { a.recorder = r }
}

func New(store EventStore, expander *recurrence.Expander, logger *slog.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if expander == nil {
		expander = recurrence.New(logger)
	}
	a := &Aggregator{
		store:    store,
		expander: expander,
		internal: &storeSource{store: store, expander: expander},
		logger:   logger,
		tracer:   otelx.Tracer("busy"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Instances lists the user's own event instances overlapping window.
func (a *Aggregator) Instances(ctx context.Context, userID string, window interval.Interval) ([]model.EventInstance, error) {
	return Instances(ctx, a.store, a.expander, userID, window)
}

// BusyIntervals returns the user's busy time over [start, end) from every
// source. A failing source contributes nothing; the call itself never fails.
// Intervals are neither merged nor deduplicated.
func (a *Aggregator) BusyIntervals(ctx context.Context, userID string, start, end time.Time) []interval.Interval {
	var out []interval.Interval
	for _, o := range a.Outcomes(ctx, userID, start, end) {
		if errors.Is(o.Err, providers.ErrRateLimited) {
			a.logger.Warn("busy source over call budget; treating as free",
				"source", string(o.Source),
				"user_id", userID,
				"err", o.Err,
			)
			continue
		}
		if o.Err != nil {
			a.logger.Warn("busy source failed; treating as free",
				"source", string(o.Source),
				"user_id", userID,
				"duration_ms", o.Elapsed.Milliseconds(),
				"err", o.Err,
			)
			continue
		}
		out = append(out, o.Intervals...)
	}
	return out
}

// Outcomes fetches every source concurrently and reports each separately,
// internal store first, then providers in registration order.
func (a *Aggregator) Outcomes(ctx context.Context, userID string, start, end time.Time) []Outcome {
	sources := make([]Provider, 0, 1+len(a.providers))
	sources = append(sources, a.internal)
	sources = append(sources, a.providers...)

	outcomes := make([]Outcome, len(sources))
	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			outcomes[i] = a.fetch(ctx, src, userID, start, end)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (a *Aggregator) fetch(ctx context.Context, src Provider, userID string, start, end time.Time) (o Outcome) {
	o.Source = src.Source()
	began := time.Now()

	ctx, span := a.tracer.Start(ctx, "busy.fetch", trace.WithAttributes(
		attribute.String("busy.source", string(o.Source)),
	))
	defer func() {
		if r := recover(); r != nil {
			o.Intervals = nil
			o.Err = fmt.Errorf("%s provider panicked: %v", o.Source, r)
		}
		o.Elapsed = time.Since(began)
		if o.Err != nil {
			span.RecordError(o.Err)
			span.SetStatus(codes.Error, o.Err.Error())
		}
		span.SetAttributes(attribute.Int("busy.intervals", len(o.Intervals)))
		span.End()
		if a.recorder != nil {
			a.recorder.ObserveFetch(o.Source, o.Elapsed, o.Err)
		}
	}()

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	raw, err := src.FetchBusy(ctx, userID, start, end)
	if err != nil {
		o.Err = err
		return o
	}
	o.Intervals = make([]interval.Interval, 0, len(raw))
	for _, iv := range raw {
		if !iv.Valid() {
			a.logger.Debug("dropping invalid busy interval",
				"source", string(o.Source),
				"user_id", userID,
				"start", iv.Start,
				"end", iv.End,
			)
			continue
		}
		o.Intervals = append(o.Intervals, iv)
	}
	return o
}
