package services

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"

	"obsidian/internal/lrm"
	"obsidian/internal/notify"
	"obsidian/internal/storage"
)

// KeyStore persists serial keys
type KeyStore interface {
	Insert(ctx context.Context, keys []storage.SerialKey) error
	Get(ctx context.Context, serial string) (*storage.SerialKey, error)
	FindRedeemable(ctx context.Context, serial string) (*storage.SerialKey, error)
	Claim(ctx context.Context, serial, account string, at time.Time) error
	List(ctx context.Context, f storage.KeyFilter) ([]storage.SerialKey, error)
	Delete(ctx context.Context, serial string) error
	Stats(ctx context.Context) (storage.KeyStats, error)
}

// SubscriptionStore persists the local mirror of licensing API users
type SubscriptionStore interface {
	Get(ctx context.Context, discordID string) (*storage.Subscription, error)
	Upsert(ctx context.Context, s storage.Subscription) error
	BulkUpsert(ctx context.Context, subs []storage.Subscription, syncedAt int64) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// CronStateStore persists scheduled job checkpoints
type CronStateStore interface {
	Get(ctx context.Context, name string) (storage.CronState, error)
	SaveStep(ctx context.Context, name string, step int) error
}

// LicensingAPI is the upstream license authority
type LicensingAPI interface {
	ListUsers(ctx context.Context, from, until int) ([]lrm.User, error)
	GetUsersByDiscordID(ctx context.Context, discordID string) ([]lrm.User, error)
	CreateUser(ctx context.Context, req lrm.CreateUserRequest) (string, error)
	UpdateUser(ctx context.Context, req lrm.UpdateUserRequest) error
	DeleteUser(ctx context.Context, userKey string) error
	ResetHWID(ctx context.Context, userKey string) error
}

// Notifier posts chat webhook embeds
type Notifier interface {
	Enabled(kind notify.Kind) bool
	Send(ctx context.Context, kind notify.Kind, embed *discordgo.MessageEmbed) error
	SendAsync(ctx context.Context, kind notify.Kind, embed *discordgo.MessageEmbed)
}

// KeyLedger records issued keys outside the database
type KeyLedger interface {
	AppendKeys(ctx context.Context, keys []storage.SerialKey) error
}

// WebSocketHub pushes events to connected dashboard clients
type WebSocketHub interface {
	Broadcast(ctx context.Context, messageType string, data interface{})
}

// EventStore is the key-value store holding telemetry
type EventStore interface {
	AddMember(ctx context.Context, key, member string) (bool, error)
	SetSize(ctx context.Context, key string) (int64, error)
	ScanMembers(ctx context.Context, key string, batch int64, fn func(member string) error) error
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}
