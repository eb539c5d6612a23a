package config

import "time"

// Application constants
const (
	AppName    = "Obsidian"
	AppVersion = "1.4.0"

	// EnvPrefix namespaces every environment variable, e.g. OBSIDIAN_SERVER_PORT.
	EnvPrefix = "OBSIDIAN"

	// Sync window bounds for one licensing API list page
	MinSyncWindow = 1000
	MaxSyncWindow = 1500

	// Serial generation
	SerialLength    = 16
	MaxSerialAmount = 50

	// Lifetime marks a subscription or key that never expires.
	Lifetime = -1

	// MaxDurationMinutes caps a finite key duration at 100 years.
	MaxDurationMinutes = 100 * 365 * 24 * 60

	DefaultLicensingBaseURL = "https://api.luarmor.net/v3"
	DefaultLedgerSheet      = "Keys"

	// Redis keys
	TelemetrySetKey = "telemetry:events"

	// Network timeouts
	DefaultHTTPTimeout  = 30 * time.Second
	NotificationTimeout = 10 * time.Second
)

// Route prefixes
const (
	APIBasePath       = "/api"
	HealthEndpoint    = "/healthz"
	MetricsEndpoint   = "/metrics"
	WebSocketEndpoint = "/api/admin/ws"
)
