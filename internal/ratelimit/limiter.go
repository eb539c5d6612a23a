// Package ratelimit implements Redis-backed fixed and sliding window limiters
// keyed by a caller-supplied identifier (account id, IP address, token).
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Strategy selects how a limiter stores its window in Redis
type Strategy string

const (
	// StrategyCounter uses INCR with a PEXPIRE set on the first hit.
	StrategyCounter Strategy = "counter"
	// StrategySortedSet keeps one member per request scored by its expiry.
	StrategySortedSet Strategy = "sortedset"
)

const keyPrefix = "ratelimit"

// Config describes one named limiter
type Config struct {
	Name     string
	Max      int
	Window   time.Duration
	Strategy Strategy
}

// Result is the outcome of a Limit call
type Result struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
}

// RetryAfter is the time left until the window frees a slot
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed || !r.Reset.After(now) {
		return 0
	}
	return r.Reset.Sub(now)
}

// Limiter enforces one Config
type Limiter struct {
	rdb redis.Cmdable
	cfg Config
	now func() time.Time
	seq atomic.Uint64
}

// Option customizes a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter. An empty strategy defaults to counter.
func New(rdb redis.Cmdable, cfg Config, opts ...Option) (*Limiter, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("limiter name is required")
	}
	if cfg.Max <= 0 || cfg.Window <= 0 {
		return nil, fmt.Errorf("limiter %s needs a positive max and window", cfg.Name)
	}
	switch cfg.Strategy {
	case "":
		cfg.Strategy = StrategyCounter
	case StrategyCounter, StrategySortedSet:
	default:
		return nil, fmt.Errorf("limiter %s: unknown strategy %q", cfg.Name, cfg.Strategy)
	}

	l := &Limiter{rdb: rdb, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Name returns the limiter name
func (l *Limiter) Name() string {
	return l.cfg.Name
}

// Config returns the limiter configuration
func (l *Limiter) Config() Config {
	return l.cfg
}

func (l *Limiter) key(identifier string) string {
	return keyPrefix + ":" + l.cfg.Name + ":" + identifier
}

// Limit counts one request for identifier and reports whether it may proceed.
// The (Max+1)th request inside a window is denied.
func (l *Limiter) Limit(ctx context.Context, identifier string) (Result, error) {
	if l.cfg.Strategy == StrategySortedSet {
		return l.limitSortedSet(ctx, identifier)
	}
	return l.limitCounter(ctx, identifier)
}

func (l *Limiter) limitCounter(ctx context.Context, identifier string) (Result, error) {
	key := l.key(identifier)
	now := l.now()

	var (
		incr *redis.IntCmd
		pttl *redis.DurationCmd
	)
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("limiter %s: %w", l.cfg.Name, err)
	}

	count := incr.Val()
	ttl := pttl.Val()
	if ttl <= 0 {
		// first hit in this window, or a key left behind without expiry
		if err := l.rdb.PExpire(ctx, key, l.cfg.Window).Err(); err != nil {
			return Result{}, fmt.Errorf("limiter %s: %w", l.cfg.Name, err)
		}
		ttl = l.cfg.Window
	}

	return l.result(count, now.Add(ttl)), nil
}

// slidingWindow prunes expired members, counts the rest and adds the new
// member only when a slot is free. It replies {allowed, count, resetMs}
// where count includes the request being decided.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local max = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[1])
local count = redis.call('ZCARD', key)
if count >= max then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local reset = tonumber(ARGV[2])
  if oldest[2] then
    reset = tonumber(oldest[2])
  end
  return {0, count + 1, reset}
end
redis.call('ZADD', key, ARGV[2], ARGV[5])
redis.call('PEXPIRE', key, ARGV[4])
return {1, count + 1, tonumber(ARGV[2])}
`)

func (l *Limiter) limitSortedSet(ctx context.Context, identifier string) (Result, error) {
	nowMs := l.now().UnixMilli()
	expiry := nowMs + l.cfg.Window.Milliseconds()

	reply, err := slidingWindow.Run(ctx, l.rdb, []string{l.key(identifier)},
		nowMs, expiry, l.cfg.Max, l.cfg.Window.Milliseconds(), l.member()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("limiter %s: %w", l.cfg.Name, err)
	}
	if len(reply) != 3 {
		return Result{}, fmt.Errorf("limiter %s: unexpected script reply %v", l.cfg.Name, reply)
	}

	return l.result(reply[1], time.UnixMilli(reply[2])), nil
}

func (l *Limiter) member() string {
	return strconv.FormatInt(l.now().UnixNano(), 36) + "-" + strconv.FormatUint(l.seq.Add(1), 36)
}

func (l *Limiter) addEntry(ctx context.Context, key string, expiry int64) error {
	member := l.member()
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(expiry), Member: member})
		pipe.PExpire(ctx, key, l.cfg.Window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("limiter %s: %w", l.cfg.Name, err)
	}
	return nil
}

func (l *Limiter) result(count int64, reset time.Time) Result {
	remaining := int64(l.cfg.Max) - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= int64(l.cfg.Max),
		Limit:     l.cfg.Max,
		Remaining: int(remaining),
		Reset:     reset,
	}
}

// TrackRequest records a request for identifier without enforcing the limit
// and returns how many requests it made inside the current window.
func (l *Limiter) TrackRequest(ctx context.Context, identifier string) (int64, error) {
	key := l.key(identifier) + ":tracked"
	nowMs := l.now().UnixMilli()

	if err := l.rdb.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(nowMs, 10)).Err(); err != nil {
		return 0, fmt.Errorf("limiter %s: %w", l.cfg.Name, err)
	}
	if err := l.addEntry(ctx, key, nowMs+l.cfg.Window.Milliseconds()); err != nil {
		return 0, err
	}
	return l.rdb.ZCard(ctx, key).Result()
}

// Reset clears the window for identifier
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	return l.rdb.Del(ctx, l.key(identifier), l.key(identifier)+":tracked").Err()
}
