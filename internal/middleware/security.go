package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"obsidian/internal/auth"
	apierrors "obsidian/internal/errors"
	"obsidian/internal/infrastructure"
)

// SignatureHeader carries the payment provider's body signature
const SignatureHeader = "X-Signature"

// SessionVerifier parses bearer tokens into claims
type SessionVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Authenticator guards routes with session tokens
type Authenticator struct {
	sessions     SessionVerifier
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewAuthenticator creates session middleware backed by sessions
func NewAuthenticator(sessions SessionVerifier, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		sessions:     sessions,
		errorHandler: errorHandler,
		logger:       infrastructure.WithComponent(logger, "auth_middleware"),
	}
}

// RequireSession accepts any valid session and stores its claims on the
// request context.
func (a *Authenticator) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		token, ok := sessionToken(r)
		if !ok {
			a.logger.DebugContext(ctx, "missing bearer token",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			a.errorHandler.HandleError(w, r, apierrors.ErrUnauthorized)
			return
		}

		claims, err := a.sessions.Verify(token)
		if err != nil {
			a.logger.WarnContext(ctx, "session rejected",
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			)
			a.errorHandler.HandleError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithClaims(ctx, claims)))
	})
}

// sessionToken reads the bearer token. Browsers cannot set headers on a
// websocket handshake, so upgrades may pass it as ?token= instead.
func sessionToken(r *http.Request) (string, bool) {
	if token, ok := auth.BearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, true
		}
	}
	return "", false
}

// RequireAdmin accepts admin sessions only
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return a.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := auth.ClaimsFromContext(r.Context())
		if !claims.IsAdmin() {
			a.logger.WarnContext(r.Context(), "admin route denied",
				slog.String("path", r.URL.Path),
				slog.String("discord_id", claims.DiscordID),
			)
			a.errorHandler.HandleError(w, r, apierrors.ErrAdminRequired)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// CronAuth accepts requests presenting the shared cron secret as a bearer
// token. An empty secret rejects everything.
func CronAuth(secret string, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) func(next http.Handler) http.Handler {
	logger = infrastructure.WithComponent(logger, "auth_middleware")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, _ := auth.BearerToken(r.Header.Get("Authorization"))
			if !auth.SecretEqual(token, secret) {
				logger.WarnContext(r.Context(), "cron request rejected",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				errorHandler.HandleError(w, r, apierrors.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SecureHeaders provides configurable security headers
type SecureHeaders struct {
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool

	ContentSecurityPolicy string
	XFrameOptions         string
	XContentTypeOptions   string
	ReferrerPolicy        string
	PermissionsPolicy     string
}

// DefaultSecureHeaders returns headers suited to a JSON API
func DefaultSecureHeaders() *SecureHeaders {
	return &SecureHeaders{
		HSTSMaxAge:            63072000, // 2 years
		HSTSIncludeSubdomains: true,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		XFrameOptions:         "DENY",
		XContentTypeOptions:   "nosniff",
		ReferrerPolicy:        "no-referrer",
		PermissionsPolicy:     "camera=(), geolocation=(), microphone=(), payment=(), usb=()",
	}
}

// Handler returns the middleware handler
func (sh *SecureHeaders) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// upgrades are answered by the websocket handshake
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		if sh.HSTSMaxAge > 0 && r.TLS != nil {
			hsts := fmt.Sprintf("max-age=%d", sh.HSTSMaxAge)
			if sh.HSTSIncludeSubdomains {
				hsts += "; includeSubDomains"
			}
			h.Set("Strict-Transport-Security", hsts)
		}
		if sh.ContentSecurityPolicy != "" {
			h.Set("Content-Security-Policy", sh.ContentSecurityPolicy)
		}
		if sh.XFrameOptions != "" {
			h.Set("X-Frame-Options", sh.XFrameOptions)
		}
		if sh.XContentTypeOptions != "" {
			h.Set("X-Content-Type-Options", sh.XContentTypeOptions)
		}
		if sh.ReferrerPolicy != "" {
			h.Set("Referrer-Policy", sh.ReferrerPolicy)
		}
		if sh.PermissionsPolicy != "" {
			h.Set("Permissions-Policy", sh.PermissionsPolicy)
		}

		next.ServeHTTP(w, r)
	})
}

// SecurityHeaders applies DefaultSecureHeaders
func SecurityHeaders(next http.Handler) http.Handler {
	return DefaultSecureHeaders().Handler(next)
}

// AuditLog records who called an admin route and how it ended.
// It must run inside RequireAdmin so the claims are present.
func AuditLog(logger *slog.Logger) func(next http.Handler) http.Handler {
	logger = infrastructure.WithComponent(logger, "audit")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			subject := "anonymous"
			if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
				subject = claims.Subject
			}

			next.ServeHTTP(ww, r)

			logger.InfoContext(r.Context(), "admin action",
				slog.String("subject", subject),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("query", r.URL.RawQuery),
				slog.String("remote_addr", r.RemoteAddr),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
