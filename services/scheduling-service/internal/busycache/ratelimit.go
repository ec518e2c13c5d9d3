package busycache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/providers"
)

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// allow counts one provider call against the user's window. Redis failures
// let the call through.
func (c *Cache) allow(ctx context.Context, source model.BusySource, userID string) error {
	if c.limit <= 0 {
		return nil
	}
	window := c.window
	if window <= 0 {
		window = time.Minute
	}
	key := c.prefix + ":rl:" + string(source) + ":" + userID
	count, err := incr(ctx, c.rdb, key, window)
	if err != nil {
		c.logger.Warn("provider rate limiter error", "source", string(source), "err", err)
		return nil
	}
	if count > int64(c.limit) {
		return fmt.Errorf("%w (%s, %d calls per %s)", providers.ErrRateLimited, source, c.limit, window)
	}
	return nil
}

func incr(ctx context.Context, rdb redis.Scripter, key string, window time.Duration) (int64, error) {
	res, err := fixedWindowScript.Run(ctx, rdb, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return 0, err
	}
	switch v := res.(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected redis script result type %T", res)
	}
}

// ReadyCheck pings Redis.
func ReadyCheck(rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
