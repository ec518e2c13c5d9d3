// Package busycache keeps provider busy time in Redis so repeated searches
// over the same window do not hit external calendars again.
package busycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/busy"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/model"
)

// Client is the subset of *redis.Client the cache uses.
type Client interface {
	redis.Scripter
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Recorder interface {
	ObserveCache(source model.BusySource, result string)
}

type Cache struct {
	rdb      Client
	ttl      time.Duration
	prefix   string
	logger   *slog.Logger
	recorder Recorder
	limit    int
	window   time.Duration
}

type Option func(*Cache)

func WithRecorder(r Recorder) Option {
	return func(c *Cache) { c.recorder = r }
}

// WithRateLimit caps uncached provider calls per user and source to limit per window.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(c *Cache) {
		c.limit = limit
		c.window = window
	}
}

func WithPrefix(prefix string) Option {
	return func(c *Cache) {
		if p := strings.TrimSpace(prefix); p != "" {
			c.prefix = p
		}
	}
}

func New(rdb Client, ttl time.Duration, logger *slog.Logger, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{rdb: rdb, ttl: ttl, prefix: "teamsched", logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Wrap returns p with reads served from the cache. Redis errors fall through to p.
func (c *Cache) Wrap(p busy.Provider) busy.Provider {
	return &cachedProvider{cache: c, next: p}
}

// Invalidate drops every cached window of the user and reports how many keys went.
func (c *Cache) Invalidate(ctx context.Context, userID string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	match := c.prefix + ":busy:" + userID + ":*"
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += int(n)
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

func (c *Cache) key(source model.BusySource, userID string, start, end time.Time) string {
	return fmt.Sprintf("%s:busy:%s:%s:%d:%d", c.prefix, userID, source, start.Unix(), end.Unix())
}

func (c *Cache) observe(source model.BusySource, result string) {
	if c.recorder != nil {
		c.recorder.ObserveCache(source, result)
	}
}

type cachedInterval struct {
	Start time.Time `json:"s"`
	End   time.Time `json:"e"`
}

type cachedProvider struct {
	cache *Cache
	next  busy.Provider
}

func (p *cachedProvider) Source() model.BusySource { return p.next.Source() }

func (p *cachedProvider) FetchBusy(ctx context.Context, userID string, start, end time.Time) ([]interval.Interval, error) {
	c := p.cache
	source := p.next.Source()
	key := c.key(source, userID, start, end)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []cachedInterval
		if jerr := json.Unmarshal(raw, &cached); jerr == nil {
			c.observe(source, "hit")
			out := make([]interval.Interval, 0, len(cached))
			for _, ci := range cached {
				out = append(out, interval.Interval{Start: ci.Start, End: ci.End})
			}
			return out, nil
		}
		c.logger.Warn("busy cache entry unreadable", "key", key)
		c.observe(source, "error")
	case errors.Is(err, redis.Nil):
		c.observe(source, "miss")
	default:
		c.logger.Warn("busy cache read failed", "source", string(source), "err", err)
		c.observe(source, "error")
	}

	if err := c.allow(ctx, source, userID); err != nil {
		return nil, err
	}

	ivs, err := p.next.FetchBusy(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}

	cached := make([]cachedInterval, 0, len(ivs))
	for _, iv := range ivs {
		cached = append(cached, cachedInterval{Start: iv.Start, End: iv.End})
	}
	if b, err := json.Marshal(cached); err == nil {
		if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
			c.logger.Warn("busy cache write failed", "source", string(source), "err", err)
		}
	}
	return ivs, nil
}
