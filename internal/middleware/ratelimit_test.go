package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obsidian/internal/auth"
	apierrors "obsidian/internal/errors"
	"obsidian/internal/ratelimit"
	"obsidian/internal/shared/testutil"
)

func newWindowLimits(t *testing.T) *WindowLimits {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	return NewWindowLimits(apierrors.NewErrorHandler(logger, false), nil, logger)
}

func newRedisLimiter(t *testing.T, cfg ratelimit.Config) (*ratelimit.Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	l, err := ratelimit.New(rdb, cfg)
	require.NoError(t, err)
	return l, mr
}

type failingLimiter struct{}

func (failingLimiter) Name() string { return "broken" }
func (failingLimiter) Limit(context.Context, string) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("connection refused")
}
func (failingLimiter) TrackRequest(context.Context, string) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestWindowLimitsLimit(t *testing.T) {
	wl := newWindowLimits(t)
	limiter, _ := newRedisLimiter(t, ratelimit.Config{Name: ratelimit.Redeem, Max: 2, Window: time.Minute})
	h := wl.Limit(limiter, ByIP)(http.HandlerFunc(okHandler))

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/redeem", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := send("10.0.0.1:1234")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1234").Code)

	denied := send("10.0.0.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, denied.Code)
	retryAfter, err := strconv.Atoi(denied.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.True(t, retryAfter >= 1 && retryAfter <= 60, "retry after %d", retryAfter)
	assert.Equal(t, "0", denied.Header().Get("X-RateLimit-Remaining"))

	body := decodeProblem(t, denied)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body["error_code"])

	// other clients have their own window
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1234").Code)
}

func TestWindowLimitsExposesResult(t *testing.T) {
	wl := newWindowLimits(t)
	limiter, _ := newRedisLimiter(t, ratelimit.Config{Name: ratelimit.HWIDReset, Max: 3, Window: time.Hour})

	var remaining []int
	h := wl.Limit(limiter, Global)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, ok := LimitResultFromContext(r.Context())
		require.True(t, ok)
		remaining = append(remaining, res.Remaining)
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	}
	assert.Equal(t, []int{2, 1, 0}, remaining)

	_, ok := LimitResultFromContext(context.Background())
	assert.False(t, ok)
}

func TestWindowLimitsFailOpen(t *testing.T) {
	wl := newWindowLimits(t)
	h := wl.Limit(failingLimiter{}, Global)(http.HandlerFunc(okHandler))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWindowLimitsTrack(t *testing.T) {
	wl := newWindowLimits(t)
	limiter, mr := newRedisLimiter(t, ratelimit.Config{
		Name:     ratelimit.Telemetry,
		Max:      1,
		Window:   time.Minute,
		Strategy: ratelimit.StrategySortedSet,
	})
	h := wl.Track(limiter, Global)(http.HandlerFunc(okHandler))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/telemetry", nil))
		assert.Equal(t, http.StatusOK, rec.Code, "tracking never denies")
	}

	members, err := mr.ZMembers("ratelimit:telemetry:global:tracked")
	require.NoError(t, err)
	assert.Len(t, members, 3)

	rec := httptest.NewRecorder()
	wl.Track(failingLimiter{}, Global)(http.HandlerFunc(okHandler)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIdentifiers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5050"

	assert.Equal(t, "192.0.2.7", ByIP(req))
	assert.Equal(t, "ip:192.0.2.7", ByAccount(req))
	assert.Equal(t, "global", Global(req))

	req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{DiscordID: "123456789012345678", Role: auth.RoleUser}))
	assert.Equal(t, "account:123456789012345678", ByAccount(req))

	req.RemoteAddr = "no-port"
	assert.Equal(t, "no-port", ByIP(req))
}
