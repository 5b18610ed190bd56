// Package config loads ticketwatch configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"time"

	"github.com/jonesrussell/ticketwatch/internal/logger"
)

// Default configuration values.
const (
	DefaultServerPort            = 8000
	DefaultMaxSessions           = 3
	DefaultMaxRequestsPerSession = 20
	DefaultBrowserTimeoutSecs    = 60
	DefaultMaxSessionAgeHours    = 12
	DefaultCacheTTLSecs          = 3600
	DefaultMinPageDelayMs        = 1000
	DefaultMaxPageDelayMs        = 5000
	DefaultFetchIntervalHours    = 6
	DefaultSyncIntervalHours     = 24
	DefaultScheduleStrategy      = "poisson"
	DefaultFetchBatchSize        = 5
	DefaultKafkaTopic            = "ticketwatch.fetch-requests"
)

// Config is the root configuration for the service.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Log       logger.Config   `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Browser   BrowserConfig   `yaml:"browser"`
	Site      SiteConfig      `yaml:"site"`
	Sheets    SheetsConfig    `yaml:"sheets"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// AppConfig holds top-level application settings.
type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `env:"APP_ENV" yaml:"environment"`
	Debug       bool   `env:"DEBUG" yaml:"debug"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Host string `env:"API_HOST" yaml:"host"`
	Port int    `env:"API_PORT" yaml:"port"`
	// APIKey is the shared secret checked against the X-API-Key header.
	// Auth is disabled when empty.
	APIKey string `env:"API_KEY" yaml:"api_key"`
}

// DatabaseConfig holds the Postgres/TimescaleDB connection settings.
type DatabaseConfig struct {
	DSN             string `env:"DATABASE_URL" yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds the listing cache settings.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" yaml:"addr"`
	Password string `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int    `env:"REDIS_DB" yaml:"db"`
	// CacheTTLSeconds controls how long cached listing responses live.
	CacheTTLSeconds int `env:"CACHE_TTL_SECONDS" yaml:"cache_ttl_seconds"`
}

// CacheTTL returns the listing cache TTL as a duration.
func (c *RedisConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// KafkaConfig holds the task submission backend settings.
type KafkaConfig struct {
	Broker string `env:"KAFKA_BROKER" yaml:"broker"`
	Topic  string `env:"KAFKA_TOPIC" yaml:"topic"`
}

// BrowserConfig holds the session pool settings.
type BrowserConfig struct {
	MaxSessions           int    `env:"MAX_BROWSER_INSTANCES" yaml:"max_sessions"`
	MaxRequestsPerSession int    `env:"MAX_REQUESTS_PER_SESSION" yaml:"max_requests_per_session"`
	TimeoutSeconds        int    `env:"BROWSER_TIMEOUT_SECONDS" yaml:"timeout_seconds"`
	MaxSessionAgeHours    int    `yaml:"max_session_age_hours"`
	Headless              bool   `env:"BROWSER_HEADLESS" yaml:"headless"`
	// StateDir is where per-session cookie snapshots are persisted.
	StateDir       string `env:"BROWSER_STATE_DIR" yaml:"state_dir"`
	MinPageDelayMs int    `env:"MIN_PAGE_DELAY_MS" yaml:"min_page_delay_ms"`
	MaxPageDelayMs int    `env:"MAX_PAGE_DELAY_MS" yaml:"max_page_delay_ms"`
}

// Timeout returns the per-operation browser timeout as a duration.
func (c *BrowserConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MaxSessionAge returns the maximum session age as a duration.
func (c *BrowserConfig) MaxSessionAge() time.Duration {
	return time.Duration(c.MaxSessionAgeHours) * time.Hour
}

// SiteConfig describes the ticketing site the fetcher drives.
// URL templates use %s for the event identifier.
type SiteConfig struct {
	BaseURL          string   `yaml:"base_url"`
	LoginURL         string   `yaml:"login_url"`
	AccountURL       string   `yaml:"account_url"`
	EventURLTemplate string   `yaml:"event_url_template"`
	// LoginSuccessPatterns are URL substrings that indicate a completed login.
	LoginSuccessPatterns []string `yaml:"login_success_patterns"`
	// ListingsEndpoint is the URL substring of the backend listings call to intercept.
	ListingsEndpoint string `yaml:"listings_endpoint"`
	Email            string `env:"STUBHUB_EMAIL" yaml:"email"`
	Password         string `env:"STUBHUB_PASSWORD" yaml:"password"`
	Selectors        SiteSelectors `yaml:"selectors"`
}

// SiteSelectors holds the CSS selectors used for navigation and fallback extraction.
type SiteSelectors struct {
	EmailInput    string `yaml:"email_input"`
	PasswordInput string `yaml:"password_input"`
	SubmitButton  string `yaml:"submit_button"`
	PageIndicator string `yaml:"page_indicator"`
	RefreshButton string `yaml:"refresh_button"`
	ListingRow    string `yaml:"listing_row"`
}

// SheetsConfig holds the event spreadsheet ingestion settings.
type SheetsConfig struct {
	// CSVURL is the published-CSV export URL of the events worksheet.
	CSVURL string `env:"SHEET_CSV_URL" yaml:"csv_url"`
}

// SchedulerConfig holds the recurring job settings.
type SchedulerConfig struct {
	FetchIntervalHours float64 `env:"FETCH_INTERVAL_HOURS" yaml:"fetch_interval_hours"`
	SyncIntervalHours  float64 `env:"SYNC_INTERVAL_HOURS" yaml:"sync_interval_hours"`
	// Strategy selects the interval randomization strategy (uniform, poisson, normal).
	Strategy string `env:"SCHEDULE_STRATEGY" yaml:"strategy"`
	// FetchBatchSize is the number of events fetched per job run.
	FetchBatchSize int `yaml:"fetch_batch_size"`
}

// SetDefaults applies default values to unset fields.
func (c *Config) SetDefaults() {
	if c.App.Name == "" {
		c.App.Name = "ticketwatch"
	}
	if c.App.Environment == "" {
		c.App.Environment = "development"
	}
	c.Log.SetDefaults()
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.CacheTTLSeconds == 0 {
		c.Redis.CacheTTLSeconds = DefaultCacheTTLSecs
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultKafkaTopic
	}
	// Headless by default. Load applies defaults before parsing the file,
	// so an explicit headless: false still takes effect.
	c.Browser.Headless = true
	if c.Browser.MaxSessions == 0 {
		c.Browser.MaxSessions = DefaultMaxSessions
	}
	if c.Browser.MaxRequestsPerSession == 0 {
		c.Browser.MaxRequestsPerSession = DefaultMaxRequestsPerSession
	}
	if c.Browser.TimeoutSeconds == 0 {
		c.Browser.TimeoutSeconds = DefaultBrowserTimeoutSecs
	}
	if c.Browser.MaxSessionAgeHours == 0 {
		c.Browser.MaxSessionAgeHours = DefaultMaxSessionAgeHours
	}
	if c.Browser.StateDir == "" {
		c.Browser.StateDir = "browser_state"
	}
	if c.Browser.MinPageDelayMs == 0 {
		c.Browser.MinPageDelayMs = DefaultMinPageDelayMs
	}
	if c.Browser.MaxPageDelayMs == 0 {
		c.Browser.MaxPageDelayMs = DefaultMaxPageDelayMs
	}
	if c.Scheduler.FetchIntervalHours == 0 {
		c.Scheduler.FetchIntervalHours = DefaultFetchIntervalHours
	}
	if c.Scheduler.SyncIntervalHours == 0 {
		c.Scheduler.SyncIntervalHours = DefaultSyncIntervalHours
	}
	if c.Scheduler.Strategy == "" {
		c.Scheduler.Strategy = DefaultScheduleStrategy
	}
	if c.Scheduler.FetchBatchSize == 0 {
		c.Scheduler.FetchBatchSize = DefaultFetchBatchSize
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Browser.MaxSessions < 1 {
		return fmt.Errorf("browser.max_sessions: must be at least 1, got %d", c.Browser.MaxSessions)
	}
	if c.Browser.MinPageDelayMs > c.Browser.MaxPageDelayMs {
		return fmt.Errorf("browser: min_page_delay_ms %d exceeds max_page_delay_ms %d",
			c.Browser.MinPageDelayMs, c.Browser.MaxPageDelayMs)
	}
	if c.Scheduler.FetchIntervalHours <= 0 {
		return fmt.Errorf("scheduler.fetch_interval_hours: must be positive, got %v",
			c.Scheduler.FetchIntervalHours)
	}
	return nil
}
