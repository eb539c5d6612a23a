package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obsidian/internal/config"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func setup(t *testing.T) (*redis.Client, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb, mr, &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestNew(t *testing.T) {
	rdb, _, _ := setup(t)

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		want    Strategy
	}{
		{name: "defaults to counter", cfg: Config{Name: "a", Max: 1, Window: time.Second}, want: StrategyCounter},
		{name: "sorted set", cfg: Config{Name: "a", Max: 1, Window: time.Second, Strategy: StrategySortedSet}, want: StrategySortedSet},
		{name: "missing name", cfg: Config{Max: 1, Window: time.Second}, wantErr: true},
		{name: "zero max", cfg: Config{Name: "a", Window: time.Second}, wantErr: true},
		{name: "zero window", cfg: Config{Name: "a", Max: 1}, wantErr: true},
		{name: "unknown strategy", cfg: Config{Name: "a", Max: 1, Window: time.Second, Strategy: "leaky"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(rdb, tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, l.Config().Strategy)
		})
	}
}

func TestLimit_DeniesAfterMaxAndRecovers(t *testing.T) {
	for _, strategy := range []Strategy{StrategyCounter, StrategySortedSet} {
		t.Run(string(strategy), func(t *testing.T) {
			rdb, mr, clock := setup(t)
			ctx := context.Background()
			l, err := New(rdb, Config{Name: "hwid-reset", Max: 3, Window: time.Minute, Strategy: strategy}, WithClock(clock.Now))
			require.NoError(t, err)

			for i := 0; i < 3; i++ {
				res, err := l.Limit(ctx, "user-1")
				require.NoError(t, err)
				assert.True(t, res.Allowed, "request %d", i+1)
				assert.Equal(t, 2-i, res.Remaining)
				assert.Equal(t, 3, res.Limit)
			}

			res, err := l.Limit(ctx, "user-1")
			require.NoError(t, err)
			assert.False(t, res.Allowed, "4th request inside the window")
			assert.Zero(t, res.Remaining)
			assert.Greater(t, res.RetryAfter(clock.Now()), time.Duration(0))

			other, err := l.Limit(ctx, "user-2")
			require.NoError(t, err)
			assert.True(t, other.Allowed, "identifiers are independent")

			clock.Advance(time.Minute + time.Millisecond)
			mr.FastForward(time.Minute + time.Millisecond)

			res, err = l.Limit(ctx, "user-1")
			require.NoError(t, err)
			assert.True(t, res.Allowed, "allowed again after the window rolls over")
		})
	}
}

func TestLimit_ConcurrentBurst(t *testing.T) {
	for _, strategy := range []Strategy{StrategyCounter, StrategySortedSet} {
		t.Run(string(strategy), func(t *testing.T) {
			rdb, _, clock := setup(t)
			l, err := New(rdb, Config{Name: "telemetry", Max: 3, Window: time.Minute, Strategy: strategy}, WithClock(clock.Now))
			require.NoError(t, err)

			var (
				wg      sync.WaitGroup
				allowed atomic.Int64
				failed  atomic.Int64
			)
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := l.Limit(context.Background(), "1.2.3.4")
					if err != nil {
						failed.Add(1)
						return
					}
					if res.Allowed {
						allowed.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Zero(t, failed.Load())
			assert.Equal(t, int64(3), allowed.Load(), "simultaneous requests must not exceed the window")
		})
	}
}

func TestLimit_CounterSetsExpiry(t *testing.T) {
	rdb, mr, clock := setup(t)
	l, err := New(rdb, Config{Name: "redeem", Max: 5, Window: 30 * time.Second}, WithClock(clock.Now))
	require.NoError(t, err)

	res, err := l.Limit(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, mr.TTL("ratelimit:redeem:42"))
	assert.Equal(t, clock.Now().Add(30*time.Second), res.Reset)
}

func TestLimit_SortedSetSlides(t *testing.T) {
	rdb, _, clock := setup(t)
	ctx := context.Background()
	l, err := New(rdb, Config{Name: "telemetry", Max: 2, Window: 10 * time.Second, Strategy: StrategySortedSet}, WithClock(clock.Now))
	require.NoError(t, err)

	_, err = l.Limit(ctx, "1.2.3.4")
	require.NoError(t, err)
	clock.Advance(6 * time.Second)
	_, err = l.Limit(ctx, "1.2.3.4")
	require.NoError(t, err)

	res, err := l.Limit(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 4*time.Second, res.RetryAfter(clock.Now()), "oldest entry frees its slot first")

	clock.Advance(5 * time.Second)
	res, err = l.Limit(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "first entry expired, second still counts")
	assert.Zero(t, res.Remaining)
}

func TestTrackRequest(t *testing.T) {
	rdb, _, clock := setup(t)
	ctx := context.Background()
	l, err := New(rdb, Config{Name: "telemetry", Max: 1, Window: time.Minute, Strategy: StrategySortedSet}, WithClock(clock.Now))
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		n, err := l.TrackRequest(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.Equal(t, int64(i), n)
	}

	res, err := l.Limit(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "tracking never consumes the limit")

	clock.Advance(2 * time.Minute)
	n, err := l.TrackRequest(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, l.Reset(ctx, "1.2.3.4"))
}

func TestRegistry(t *testing.T) {
	rdb, _, _ := setup(t)

	reg, err := NewRegistry(rdb, config.Default().Limits)
	require.NoError(t, err)

	for _, name := range []string{Redeem, HWIDReset, Telemetry, Sync} {
		l, err := reg.Get(name)
		require.NoError(t, err)
		assert.Equal(t, name, l.Name())
	}
	assert.Equal(t, StrategySortedSet, reg.MustGet(Telemetry).Config().Strategy)

	_, err = reg.Get("nope")
	assert.Error(t, err)
	assert.Panics(t, func() { reg.MustGet("nope") })

	_, err = NewRegistry(rdb, config.LimitsConfig{})
	assert.Error(t, err)
}
