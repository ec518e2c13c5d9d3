// Package ics reports busy time from subscribed iCalendar feeds.
package ics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/recurrence"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/storage"
)

const defaultMaxBody = 5 << 20

type FeedStore interface {
	Feeds(ctx context.Context, userID string) ([]storage.Feed, error)
}

type Provider struct {
	feeds   FeedStore
	client  *http.Client
	logger  *slog.Logger
	maxBody int64
}

func NewProvider(feeds FeedStore, timeout time.Duration, logger *slog.Logger) *Provider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		feeds:   feeds,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		maxBody: defaultMaxBody,
	}
}

func (p *Provider) Source() model.BusySource { return model.SourceICS }

// FetchBusy reads every enabled feed of the user. A broken feed is logged and
// skipped; the call fails only when every feed fails.
func (p *Provider) FetchBusy(ctx context.Context, userID string, start, end time.Time) ([]interval.Interval, error) {
	feeds, err := p.feeds.Feeds(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ics: loading feeds: %w", err)
	}

	var (
		out  []interval.Interval
		errs []error
	)
	window := interval.Interval{Start: start, End: end}
	for _, f := range feeds {
		body, err := p.fetch(ctx, f.URL)
		if err != nil {
			p.logger.Warn("ics feed fetch failed", "user_id", userID, "feed_id", f.ID, "url", redactURL(f.URL), "err", err)
			errs = append(errs, err)
			continue
		}
		ivs, err := BusyFromCalendar(body, window, p.logger)
		if err != nil {
			p.logger.Warn("ics feed parse failed", "user_id", userID, "feed_id", f.ID, "url", redactURL(f.URL), "err", err)
			errs = append(errs, err)
			continue
		}
		out = append(out, ivs...)
	}
	if len(feeds) > 0 && len(errs) == len(feeds) {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (p *Provider) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/calendar")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ics: unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > p.maxBody {
		return nil, fmt.Errorf("ics: feed exceeds %d bytes", p.maxBody)
	}
	return body, nil
}

// BusyFromCalendar returns the opaque busy intervals of an iCalendar payload
// that overlap window. Cancelled and transparent events are ignored and
// recurring events are expanded. An occurrence moved or cancelled by a
// RECURRENCE-ID override is replaced by the override.
func BusyFromCalendar(body []byte, window interval.Interval, logger *slog.Logger) ([]interval.Interval, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse: %w", err)
	}

	events := cal.Events()
	overrides := map[string][]*ical.IANAProperty{}
	for _, ve := range events {
		if rid := ve.GetProperty(ical.ComponentPropertyRecurrenceId); rid != nil {
			uid := propValue(ve, ical.ComponentPropertyUniqueId)
			overrides[uid] = append(overrides[uid], rid)
		}
	}

	var out []interval.Interval
	for _, ve := range events {
		if !blocksTime(ve) {
			continue
		}
		uid := propValue(ve, ical.ComponentPropertyUniqueId)
		start, err := ve.GetStartAt()
		if err != nil {
			logger.Debug("ics event without usable DTSTART skipped", "uid", uid, "err", err)
			continue
		}
		end, err := ve.GetEndAt()
		if err != nil || !end.After(start) {
			logger.Debug("ics event without usable DTEND skipped", "uid", uid)
			continue
		}

		isOverride := ve.GetProperty(ical.ComponentPropertyRecurrenceId) != nil
		var moved map[int64]bool
		if !isOverride {
			moved = overriddenStarts(overrides[uid], start.Location())
		}

		rule := propValue(ve, ical.ComponentPropertyRrule)
		if rule == "" || isOverride {
			iv := interval.Interval{Start: start, End: end}
			if !moved[start.Unix()] && interval.Overlaps(iv, window) {
				out = append(out, iv)
			}
			continue
		}

		out = append(out, expand(ve, rule, start, end.Sub(start), window, moved, logger)...)
	}
	return out, nil
}

func expand(ve *ical.VEvent, rule string, start time.Time, d time.Duration, window interval.Interval, moved map[int64]bool, logger *slog.Logger) []interval.Interval {
	r, err := recurrence.ParseRule(rule, start)
	if err != nil {
		logger.Warn("ics recurrence rule rejected", "uid", propValue(ve, ical.ComponentPropertyUniqueId), "rule", rule, "err", err)
		return nil
	}
	excluded := exdates(ve, start.Location())

	var out []interval.Interval
	for _, occ := range r.Between(window.Start.Add(-d), window.End, true) {
		if excluded[occ.Unix()] || moved[occ.Unix()] {
			continue
		}
		iv := interval.Interval{Start: occ, End: occ.Add(d)}
		if interval.Overlaps(iv, window) {
			out = append(out, iv)
		}
		if len(out) >= recurrence.DefaultMaxOccurrences {
			break
		}
	}
	return out
}

// overriddenStarts returns the original starts replaced by RECURRENCE-ID
// overrides. Values without TZID are read in the base event's location.
func overriddenStarts(rids []*ical.IANAProperty, loc *time.Location) map[int64]bool {
	if len(rids) == 0 {
		return nil
	}
	out := make(map[int64]bool, len(rids))
	for _, rid := range rids {
		ridLoc := loc
		if tz := rid.ICalParameters[string(ical.ParameterTzid)]; len(tz) > 0 {
			if l, err := time.LoadLocation(tz[0]); err == nil {
				ridLoc = l
			}
		}
		if t, err := parseICSTime(strings.TrimSpace(rid.Value), ridLoc); err == nil {
			out[t.Unix()] = true
		}
	}
	return out
}

func blocksTime(ve *ical.VEvent) bool {
	if strings.EqualFold(propValue(ve, ical.ComponentPropertyStatus), "CANCELLED") {
		return false
	}
	if strings.EqualFold(propValue(ve, ical.ComponentPropertyTransp), "TRANSPARENT") {
		return false
	}
	return true
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func exdates(ve *ical.VEvent, loc *time.Location) map[int64]bool {
	out := map[int64]bool{}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(strings.TrimSpace(part), loc); err == nil {
				out[t.Unix()] = true
			}
		}
	}
	return out
}

func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

// redactURL keeps scheme and host; feed paths often embed secrets.
func redactURL(u string) string {
	i := strings.Index(u, "://")
	if i < 0 {
		return "ics://...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + "/...(redacted)"
}
