package storage

import "time"

// SerialKey is a locally issued license serial
type SerialKey struct {
	Serial  string `json:"serial"`
	OrderID string `json:"order_id"`
	// DurationMinutes is nil for lifetime keys.
	DurationMinutes *int       `json:"duration_minutes"`
	ClaimedAt       *time.Time `json:"claimed_at"`
	LinkedTo        *string    `json:"linked_to"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Lifetime reports whether the key grants a non-expiring license
func (k SerialKey) Lifetime() bool {
	return k.DurationMinutes == nil
}

// Claimed reports whether the key has been linked to an account
func (k SerialKey) Claimed() bool {
	return k.LinkedTo != nil
}

// Subscription mirrors one licensing API user locally
type Subscription struct {
	DiscordID string `json:"discord_id"`
	LRMSerial string `json:"lrm_serial"`
	// ExpiresAt is epoch milliseconds, -1 for lifetime, nil when unknown.
	ExpiresAt  *int64 `json:"expires_at"`
	IsBanned   bool   `json:"is_banned"`
	UserStatus string `json:"user_status"`
	LastSync   int64  `json:"last_sync"`
}

// KeyFilter narrows a key listing
type KeyFilter struct {
	// Claimed filters by claim state when non-nil.
	Claimed *bool
	OrderID string
	Limit   int
	Offset  int
}

// KeyStats summarizes the keys table
type KeyStats struct {
	Total     int64 `json:"total"`
	Claimed   int64 `json:"claimed"`
	Unclaimed int64 `json:"unclaimed"`
	Lifetime  int64 `json:"lifetime"`
}
