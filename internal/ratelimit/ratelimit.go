// Package ratelimit bounds how many collection attempts a courier may make in a rolling window.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/cod-ledger/pkg/redis"
)

// slidingWindowScript keeps one sorted set member per accepted attempt, scored by its time in
// milliseconds. Trimming, counting and recording run as one script so concurrent attempts by
// the same courier cannot both take the last slot. Rejected attempts are not recorded.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	local retry = window
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if oldest[2] then
		retry = tonumber(oldest[2]) + window - now
	end
	return {0, count, retry}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, count + 1, 0}
`)

type Config struct {
	Limit  int
	Window time.Duration
}

func DefaultConfig() Config {
	return Config{
		Limit:  10,
		Window: time.Hour,
	}
}

type Decision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

type SlidingWindow struct {
	redis  redis.RedisAdapter
	config Config
	now    func() time.Time
}

func NewSlidingWindow(r redis.RedisAdapter, cfg Config) *SlidingWindow {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultConfig().Limit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &SlidingWindow{
		redis:  r,
		config: cfg,
		now:    time.Now,
	}
}

// WithClock replaces the time source; tests use it to move through the window.
func (l *SlidingWindow) WithClock(now func() time.Time) *SlidingWindow {
	l.now = now
	return l
}

func (l *SlidingWindow) key(agentID int64) string {
	return "ratelimit:collect:" + strconv.FormatInt(agentID, 10)
}

// Allow records an attempt for agentID if the window still has room.
func (l *SlidingWindow) Allow(ctx context.Context, agentID int64) (Decision, error) {
	now := l.now().UnixMilli()
	res, err := l.redis.Eval(ctx, slidingWindowScript, []string{l.key(agentID)},
		now, l.config.Window.Milliseconds(), l.config.Limit, strconv.FormatInt(now, 10)+"-"+uuid.NewString())
	if err != nil {
		return Decision{}, fmt.Errorf("rate window eval: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("rate window eval: unexpected reply %v", res)
	}
	allowed, _ := values[0].(int64)
	count, _ := values[1].(int64)
	retry, _ := values[2].(int64)

	return Decision{
		Allowed:    allowed == 1,
		Count:      int(count),
		RetryAfter: time.Duration(retry) * time.Millisecond,
	}, nil
}
