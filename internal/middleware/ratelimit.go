package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"obsidian/internal/auth"
	apierrors "obsidian/internal/errors"
	"obsidian/internal/infrastructure"
	"obsidian/internal/ratelimit"
)

// WindowLimiter is the subset of ratelimit.Limiter the middleware uses
type WindowLimiter interface {
	Name() string
	Limit(ctx context.Context, identifier string) (ratelimit.Result, error)
	TrackRequest(ctx context.Context, identifier string) (int64, error)
}

// IdentifierFunc picks the value a limiter counts requests by
type IdentifierFunc func(r *http.Request) string

// ByIP counts requests per client address. RealIP must run first when the
// service sits behind a proxy.
func ByIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ByAccount counts requests per session Discord id and falls back to the
// client address for anonymous requests.
func ByAccount(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims.DiscordID != "" {
		return "account:" + claims.DiscordID
	}
	return "ip:" + ByIP(r)
}

// Global counts every caller in one window
func Global(*http.Request) string {
	return "global"
}

type limitResultKey struct{}

// LimitResultFromContext returns the decision Limit made for the request.
// It is absent when the limiter store was unreachable.
func LimitResultFromContext(ctx context.Context) (ratelimit.Result, bool) {
	res, ok := ctx.Value(limitResultKey{}).(ratelimit.Result)
	return res, ok
}

// WindowLimits applies the Redis window limiters per route
type WindowLimits struct {
	errorHandler *apierrors.ErrorHandler
	metrics      *infrastructure.BusinessMetrics
	logger       *slog.Logger
	now          func() time.Time
}

// NewWindowLimits creates the per-route limiter middleware factory
func NewWindowLimits(errorHandler *apierrors.ErrorHandler, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) *WindowLimits {
	if metrics == nil {
		metrics = infrastructure.NoopBusinessMetrics()
	}
	return &WindowLimits{
		errorHandler: errorHandler,
		metrics:      metrics,
		logger:       infrastructure.WithComponent(logger, "rate_limit"),
		now:          time.Now,
	}
}

// Limit denies the (Max+1)th request of identify(r) within the window with a
// 429 and Retry-After. A store failure lets the request through.
func (wl *WindowLimits) Limit(limiter WindowLimiter, identify IdentifierFunc) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identifier := identify(r)

			res, err := limiter.Limit(ctx, identifier)
			if err != nil {
				wl.logger.ErrorContext(ctx, "rate limiter unavailable, allowing request",
					slog.String("limiter", limiter.Name()),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))

			if !res.Allowed {
				retryAfter := int(math.Ceil(res.RetryAfter(wl.now()).Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				h.Set("Retry-After", strconv.Itoa(retryAfter))

				infrastructure.RecordRateLimitDenial(ctx, wl.metrics, limiter.Name())
				wl.logger.WarnContext(ctx, "rate limit exceeded",
					slog.String("limiter", limiter.Name()),
					slog.String("identifier", identifier),
					slog.String("path", r.URL.Path),
				)
				wl.errorHandler.HandleError(w, r, apierrors.RateLimited(limiter.Name(), retryAfter))
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, limitResultKey{}, res)))
		})
	}
}

// Track records each request against limiter for reporting without ever
// denying it.
func (wl *WindowLimits) Track(limiter WindowLimiter, identify IdentifierFunc) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if n, err := limiter.TrackRequest(ctx, identify(r)); err != nil {
				wl.logger.WarnContext(ctx, "failed to track request",
					slog.String("limiter", limiter.Name()),
					slog.String("error", err.Error()),
				)
			} else {
				wl.logger.DebugContext(ctx, "request tracked",
					slog.String("limiter", limiter.Name()),
					slog.Int64("window_count", n),
				)
			}
			next.ServeHTTP(w, r)
		})
	}
}
