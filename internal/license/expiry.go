package license

import (
	"math"
	"strings"
	"time"

	"obsidian/internal/config"
	apierrors "obsidian/internal/errors"
)

// ComputeExpiry returns the auth_expire (unix seconds) a redemption should
// write. current is the account's existing finite expiry, nil for a new
// account; durationMinutes is nil for a lifetime serial. An expiry already in
// the past does not stack: the duration counts from now.
func ComputeExpiry(now time.Time, current *int64, durationMinutes *int) int64 {
	if durationMinutes == nil {
		return config.Lifetime
	}
	base := now.Unix()
	if current != nil && *current > base {
		base = *current
	}
	add := int64(*durationMinutes) * 60
	if add > 0 && base > math.MaxInt64-add {
		return math.MaxInt64
	}
	return base + add
}

// ToMillis converts an upstream expiry in seconds to the local millisecond
// form, keeping the lifetime sentinel.
func ToMillis(authExpire int64) int64 {
	if authExpire == config.Lifetime {
		return config.Lifetime
	}
	return authExpire * 1000
}

// IsPromotional reports whether a record's note marks it as a promotional
// (ad reward or checkpoint) license. Matching is case-insensitive.
func IsPromotional(note string, tags []string) bool {
	if note == "" {
		return false
	}
	lower := strings.ToLower(note)
	for _, tag := range tags {
		if tag != "" && strings.Contains(lower, strings.ToLower(tag)) {
			return true
		}
	}
	return false
}

// ValidateDuration rejects finite durations that are not positive or exceed
// config.MaxDurationMinutes; nil means lifetime
func ValidateDuration(minutes *int) error {
	if minutes != nil && (*minutes <= 0 || *minutes > config.MaxDurationMinutes) {
		return apierrors.ErrInvalidDuration
	}
	return nil
}

// ResolveProduct maps a payment product id to a key duration. A configured
// duration of 0 minutes is a lifetime product and resolves to nil.
func ResolveProduct(products map[string]int, productID string) (*int, error) {
	minutes, ok := products[productID]
	if !ok {
		return nil, apierrors.ErrUnknownProduct
	}
	if minutes == 0 {
		return nil, nil
	}
	return &minutes, nil
}

// HasResellerPrefix reports whether an order reference belongs to a reseller
func HasResellerPrefix(orderID string, prefixes []string) (string, bool) {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(orderID, p) {
			return p, true
		}
	}
	return "", false
}
