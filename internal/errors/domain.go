package errors

import (
	"net/http"
)

// Problem types following RFC 7807
const (
	TypeValidation   = "/errors/validation"
	TypeNotFound     = "/errors/not-found"
	TypeUnauthorized = "/errors/unauthorized"
	TypeForbidden    = "/errors/forbidden"
	TypeRateLimit    = "/errors/rate-limit"
	TypeInternal     = "/errors/internal"
	TypeUpstream     = "/errors/upstream"
	TypeServiceDown  = "/errors/service-unavailable"
	TypeTimeout      = "/errors/timeout"
	TypeConflict     = "/errors/conflict"
)

// Key lifecycle errors. Messages are part of the public API and are shown
// to buyers as-is.
var (
	ErrSerialNotFound   = New(http.StatusNotFound, "SERIAL_NOT_FOUND", "serial not found or already claimed")
	ErrInvalidSerial    = New(http.StatusBadRequest, "INVALID_SERIAL", "serial must be 16 letters or digits")
	ErrLifetimeAccount  = New(http.StatusForbidden, "LIFETIME_ACCOUNT", "account already has a lifetime license")
	ErrAmountTooSmall   = New(http.StatusBadRequest, "INVALID_AMOUNT", "amount must be greater than 0")
	ErrAmountTooLarge   = New(http.StatusBadRequest, "INVALID_AMOUNT", "amount must be less than 50")
	ErrInvalidDuration  = New(http.StatusBadRequest, "INVALID_DURATION", "duration must be a positive number of minutes")
	ErrKeyNotFound      = New(http.StatusNotFound, "KEY_NOT_FOUND", "key not found")
	ErrKeyAlreadyLinked = New(http.StatusConflict, "KEY_CLAIMED", "key has already been claimed")

	ErrSubscriptionNotFound = New(http.StatusNotFound, "SUBSCRIPTION_NOT_FOUND", "no subscription found for this account")
	ErrAccountBanned        = New(http.StatusForbidden, "ACCOUNT_BANNED", "account is banned")

	ErrInvalidCredentials = New(http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
	ErrInvalidSession     = New(http.StatusUnauthorized, "INVALID_SESSION", "invalid or expired session")
	ErrInvalidSignature   = New(http.StatusUnauthorized, "INVALID_SIGNATURE", "invalid webhook signature")
	ErrAdminRequired      = New(http.StatusForbidden, "ADMIN_REQUIRED", "admin access required")

	ErrUnknownProduct  = New(http.StatusBadRequest, "UNKNOWN_PRODUCT", "unknown product")
	ErrSyncInProgress  = New(http.StatusConflict, "SYNC_IN_PROGRESS", "a sync run is already in progress")
	ErrNotifierMissing = New(http.StatusServiceUnavailable, "NOTIFIER_DISABLED", "no webhook configured for this notification")
)

// Upstream wraps a licensing API failure; the upstream message is kept verbatim.
func Upstream(err error) *APIError {
	return Wrap(http.StatusInternalServerError, "UPSTREAM_ERROR", err)
}

// Database wraps a storage failure; the driver message is kept verbatim.
func Database(err error) *APIError {
	return Wrap(http.StatusInternalServerError, "DATABASE_ERROR", err)
}

// Store wraps a key-value store failure; the client message is kept verbatim.
func Store(err error) *APIError {
	return Wrap(http.StatusInternalServerError, "STORE_ERROR", err)
}

// RateLimited returns a 429 carrying the seconds until the window resets.
func RateLimited(limiter string, retryAfter int) *APIError {
	return NewWithDetails(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded", map[string]interface{}{
		"limiter":     limiter,
		"retry_after": retryAfter,
	})
}
