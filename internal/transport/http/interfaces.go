package http

import (
	"context"

	"obsidian/internal/auth"
	"obsidian/internal/services"
	"obsidian/internal/storage"
)

// KeyServiceInterface is the key issuance surface used by the admin API
type KeyServiceInterface interface {
	Generate(ctx context.Context, req services.GenerateRequest, source string) ([]storage.SerialKey, error)
	Get(ctx context.Context, serial string) (*storage.SerialKey, error)
	List(ctx context.Context, f storage.KeyFilter) ([]storage.SerialKey, error)
	Delete(ctx context.Context, serial string) error
	Stats(ctx context.Context) (storage.KeyStats, error)
}

// RedemptionServiceInterface links a serial to a Discord account
type RedemptionServiceInterface interface {
	Redeem(ctx context.Context, serial, discordID string) (*services.RedeemResult, error)
}

// AccountServiceInterface serves a buyer's own subscription
type AccountServiceInterface interface {
	Subscription(ctx context.Context, discordID string) (*storage.Subscription, error)
	ResetHWID(ctx context.Context, discordID string) (*storage.Subscription, error)
}

// TelemetryServiceInterface stores and summarizes execution events
type TelemetryServiceInterface interface {
	Record(ctx context.Context, ev services.TelemetryEvent) (*services.TelemetryEvent, error)
	Summary(ctx context.Context) (*services.TelemetrySummary, error)
}

// PaymentServiceInterface fulfils paid orders
type PaymentServiceInterface interface {
	HandleEvent(ctx context.Context, ev services.PaymentEvent) (*services.PaymentResult, error)
}

// SyncServiceInterface drives the subscription mirror
type SyncServiceInterface interface {
	RunBatch(ctx context.Context, step int) (*services.BatchResult, error)
	RunAll(ctx context.Context) (*services.RunReport, error)
	RunScheduled(ctx context.Context) (*services.RunReport, error)
	State(ctx context.Context) (*services.SyncState, error)
}

// OverviewServiceInterface gathers the dashboard figures
type OverviewServiceInterface interface {
	Get(ctx context.Context) (*services.Overview, error)
}

// ChangelogServiceInterface announces releases
type ChangelogServiceInterface interface {
	Announce(ctx context.Context, req services.ChangelogRequest) error
}

// SessionServiceInterface issues session tokens
type SessionServiceInterface interface {
	AdminLogin(ctx context.Context, password string) (*services.Session, error)
	UserSession(ctx context.Context, discordID string) (*services.Session, error)
	Verify(token string) (*auth.Claims, error)
}
