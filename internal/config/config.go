package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" envconfig:"SERVER"`
	Security      SecurityConfig      `yaml:"security" envconfig:"SECURITY"`
	Logging       LoggingConfig       `yaml:"logging" envconfig:"LOGGING"`
	Observability ObservabilityConfig `yaml:"observability" envconfig:"OBSERVABILITY"`
	Database      DatabaseConfig      `yaml:"database" envconfig:"DATABASE"`
	Redis         RedisConfig         `yaml:"redis" envconfig:"REDIS"`
	Licensing     LicensingConfig     `yaml:"licensing" envconfig:"LICENSING"`
	Sync          SyncConfig          `yaml:"sync" envconfig:"SYNC"`
	Limits        LimitsConfig        `yaml:"limits" envconfig:"LIMITS"`
	Notifications NotificationsConfig `yaml:"notifications" envconfig:"NOTIFICATIONS"`
	Ledger        LedgerConfig        `yaml:"ledger" envconfig:"LEDGER"`
	WebSocket     WebSocketConfig     `yaml:"websocket" envconfig:"WEBSOCKET"`

	// Products maps a payment provider product id to a key duration in
	// minutes. Zero means lifetime.
	Products map[string]int `yaml:"products" split_words:"true"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" split_words:"true"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" split_words:"true"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
	RequestTimeout  time.Duration `yaml:"request_timeout" split_words:"true"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" split_words:"true"`
	EnableCORS     bool            `yaml:"enable_cors" split_words:"true"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`

	// AdminPasswordHash is a bcrypt hash checked by the admin login endpoint.
	AdminPasswordHash    string        `yaml:"admin_password_hash" split_words:"true"`
	SessionSecret        string        `yaml:"session_secret" split_words:"true"`
	SessionTTL           time.Duration `yaml:"session_ttl" split_words:"true"`
	CronSecret           string        `yaml:"cron_secret" split_words:"true"`
	PaymentWebhookSecret string        `yaml:"payment_webhook_secret" split_words:"true"`
}

// RateLimitConfig contains the global token bucket configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" split_words:"true"`
	RPS     float64 `yaml:"rps" split_words:"true"`
	Burst   int     `yaml:"burst" split_words:"true"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" split_words:"true"`
	Format   string `yaml:"format" split_words:"true"`
	Output   string `yaml:"output" split_words:"true"`
	FilePath string `yaml:"file_path" split_words:"true"`
}

// ObservabilityConfig selects the OpenTelemetry exporters
type ObservabilityConfig struct {
	Environment    string  `yaml:"environment" split_words:"true"`
	TraceExporter  string  `yaml:"trace_exporter" split_words:"true"`
	MetricExporter string  `yaml:"metric_exporter" split_words:"true"`
	SampleRatio    float64 `yaml:"sample_ratio" split_words:"true"`
}

// DatabaseConfig holds the Postgres connection settings
type DatabaseConfig struct {
	Host            string        `yaml:"host" split_words:"true"`
	Port            int           `yaml:"port" split_words:"true"`
	User            string        `yaml:"user" split_words:"true"`
	Password        string        `yaml:"password" split_words:"true"`
	Name            string        `yaml:"name" split_words:"true"`
	SSLMode         string        `yaml:"sslmode" split_words:"true"`
	MaxOpenConns    int           `yaml:"max_open_conns" split_words:"true"`
	MaxIdleConns    int           `yaml:"max_idle_conns" split_words:"true"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" split_words:"true"`
}

// DSN returns the lib/pq connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// RedisConfig holds the key-value store settings
type RedisConfig struct {
	URL string `yaml:"url" split_words:"true"`
}

// LicensingConfig points at the upstream licensing API
type LicensingConfig struct {
	BaseURL   string        `yaml:"base_url" split_words:"true"`
	ProjectID string        `yaml:"project_id" split_words:"true"`
	APIKey    string        `yaml:"api_key" split_words:"true"`
	Timeout   time.Duration `yaml:"timeout" split_words:"true"`
	// PromoTags are note markers identifying promotional records.
	PromoTags []string `yaml:"promo_tags" split_words:"true"`
}

// SyncConfig controls the mirror batch job
type SyncConfig struct {
	Window     int           `yaml:"window" split_words:"true"`
	BatchPause time.Duration `yaml:"batch_pause" split_words:"true"`
}

// LimiterConfig is one named limiter's budget
type LimiterConfig struct {
	Max    int           `yaml:"max" split_words:"true"`
	Window time.Duration `yaml:"window" split_words:"true"`
}

// LimitsConfig holds the named per-endpoint limiters
type LimitsConfig struct {
	Redeem    LimiterConfig `yaml:"redeem" envconfig:"REDEEM"`
	HWIDReset LimiterConfig `yaml:"hwid_reset" envconfig:"HWID_RESET"`
	Telemetry LimiterConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	Sync      LimiterConfig `yaml:"sync" envconfig:"SYNC"`
}

// NotificationsConfig holds Discord webhook targets
type NotificationsConfig struct {
	PurchaseWebhook   string   `yaml:"purchase_webhook" split_words:"true"`
	RedemptionWebhook string   `yaml:"redemption_webhook" split_words:"true"`
	ChangelogWebhook  string   `yaml:"changelog_webhook" split_words:"true"`
	SyncWebhook       string   `yaml:"sync_webhook" split_words:"true"`
	ResellerPrefixes  []string `yaml:"reseller_prefixes" split_words:"true"`
}

// LedgerConfig enables the Google Sheets audit ledger when SpreadsheetID is set
type LedgerConfig struct {
	SpreadsheetID   string `yaml:"spreadsheet_id" split_words:"true"`
	CredentialsFile string `yaml:"credentials_file" split_words:"true"`
	SheetName       string `yaml:"sheet_name" split_words:"true"`
}

// Enabled reports whether the ledger should be wired
func (l LedgerConfig) Enabled() bool {
	return l.SpreadsheetID != ""
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" split_words:"true"`
	WriteBufferSize int           `yaml:"write_buffer_size" split_words:"true"`
	PingPeriod      time.Duration `yaml:"ping_period" split_words:"true"`
	PongWait        time.Duration `yaml:"pong_wait" split_words:"true"`
}

// Load builds the configuration from defaults, then the YAML file if one is
// found, then OBSIDIAN_* environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := getConfigFilePath(); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg; keys absent from the file keep their value
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate checks ranges and normalizes values that have a single valid form
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Security.EnableCORS && len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}

	if c.Security.RateLimit.Enabled && (c.Security.RateLimit.RPS <= 0 || c.Security.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit rps and burst must be positive")
	}

	if c.Sync.Window < MinSyncWindow || c.Sync.Window > MaxSyncWindow {
		return fmt.Errorf("sync window must be between %d and %d, got %d", MinSyncWindow, MaxSyncWindow, c.Sync.Window)
	}

	if c.Sync.BatchPause < 0 {
		return fmt.Errorf("sync batch pause must not be negative")
	}

	if _, err := url.ParseRequestURI(c.Licensing.BaseURL); err != nil {
		return fmt.Errorf("invalid licensing base url %q: %w", c.Licensing.BaseURL, err)
	}
	c.Licensing.BaseURL = strings.TrimRight(c.Licensing.BaseURL, "/")

	if c.Licensing.Timeout <= 0 {
		return fmt.Errorf("licensing timeout must be positive")
	}

	limits := map[string]LimiterConfig{
		"redeem":     c.Limits.Redeem,
		"hwid_reset": c.Limits.HWIDReset,
		"telemetry":  c.Limits.Telemetry,
		"sync":       c.Limits.Sync,
	}
	for name, l := range limits {
		if l.Max <= 0 || l.Window <= 0 {
			return fmt.Errorf("limiter %s needs a positive max and window", name)
		}
	}

	for product, minutes := range c.Products {
		if minutes < 0 || minutes > MaxDurationMinutes {
			return fmt.Errorf("product %s has duration %d outside 0..%d minutes", product, minutes, MaxDurationMinutes)
		}
	}

	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}

	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		c.Logging.Output = "console"
	}

	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/app.log"
	}

	if c.Ledger.Enabled() && c.Ledger.SheetName == "" {
		c.Ledger.SheetName = DefaultLedgerSheet
	}

	return nil
}

// getConfigFilePath returns the path to the config file, or "" when none exists
func getConfigFilePath() string {
	if explicit := os.Getenv(EnvPrefix + "_CONFIG_FILE"); explicit != "" {
		return explicit
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  60 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
			SessionTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/app.log",
		},
		Observability: ObservabilityConfig{
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Name:            "obsidian",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
		},
		Licensing: LicensingConfig{
			BaseURL:   DefaultLicensingBaseURL,
			Timeout:   10 * time.Second,
			PromoTags: []string{"Ad Reward", "checkpoint"},
		},
		Sync: SyncConfig{
			Window:     MinSyncWindow,
			BatchPause: time.Second,
		},
		Limits: LimitsConfig{
			Redeem:    LimiterConfig{Max: 5, Window: time.Minute},
			HWIDReset: LimiterConfig{Max: 3, Window: 24 * time.Hour},
			Telemetry: LimiterConfig{Max: 30, Window: time.Minute},
			Sync:      LimiterConfig{Max: 2, Window: 10 * time.Minute},
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      30 * time.Second,
			PongWait:        60 * time.Second,
		},
		Products: map[string]int{},
	}
}
