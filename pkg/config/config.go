// Package config provides the tap configuration.
//
// The configuration is organized into logical sections:
//   - Connection: Tilroy API location and credential material
//   - Streams: per-stream selection, page size and replication overrides
//   - Reliability: retry/backoff, request timeout, rate limiting
//   - Sync: stream concurrency and validation policy
//   - State, Output: where bookmarks and messages go
//   - Observability: logging, metrics, tracing
//
// Example usage:
//
//	cfg := config.NewConfig()
//	if err := config.Load("config.json", cfg); err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the full tap configuration. Field names follow the Singer
// convention of snake_case keys so an existing config.json loads unchanged.
type Config struct {
	// APIURL is the base URL of the Tilroy API
	APIURL string `yaml:"api_url" json:"api_url"`
	// TilroyAPIKey is sent as the Tilroy-Api-Key header
	TilroyAPIKey string `yaml:"tilroy_api_key" json:"tilroy_api_key"`
	// XAPIKey is sent as the x-api-key header
	XAPIKey string `yaml:"x_api_key" json:"x_api_key"`
	// StartDate bounds the first-ever incremental sync (RFC3339 or YYYY-MM-DD)
	StartDate string `yaml:"start_date" json:"start_date"`
	// UserAgent overrides the HTTP User-Agent header
	UserAgent string `yaml:"user_agent" json:"user_agent"`

	Streams       map[string]StreamConfig `yaml:"streams" json:"streams"`
	Reliability   ReliabilityConfig       `yaml:"reliability" json:"reliability"`
	Sync          SyncConfig              `yaml:"sync" json:"sync"`
	State         StateConfig             `yaml:"state" json:"state"`
	Output        OutputConfig            `yaml:"output" json:"output"`
	Auth          AuthConfig              `yaml:"auth" json:"auth"`
	Database      DatabaseConfig          `yaml:"database" json:"database"`
	Observability ObservabilityConfig     `yaml:"observability" json:"observability"`
}

// StreamConfig overrides a stream's catalog defaults.
type StreamConfig struct {
	// Selected nil means "use catalog selection"
	Selected          *bool  `yaml:"selected" json:"selected"`
	PageSize          int    `yaml:"page_size" json:"page_size"`
	ReplicationMethod string `yaml:"replication_method" json:"replication_method"`
	ReplicationKey    string `yaml:"replication_key" json:"replication_key"`
}

// ReliabilityConfig contains retry and request pacing settings.
type ReliabilityConfig struct {
	// RetryAttempts is the number of retries after the first attempt
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// RetryDelay is the initial delay between retries
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// RetryMultiplier increases delay exponentially
	RetryMultiplier float64 `yaml:"retry_multiplier" json:"retry_multiplier"`
	// MaxRetryDelay caps the maximum retry delay
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
	// RequestTimeout applies to each fetch attempt
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	// RateLimitPerSec limits requests per second (0 = unlimited)
	RateLimitPerSec int `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
	// RateLimitBurst is the token bucket capacity
	RateLimitBurst int `yaml:"rate_limit_burst" json:"rate_limit_burst"`
}

// SyncConfig controls how streams are driven.
type SyncConfig struct {
	MaxConcurrentStreams int `yaml:"max_concurrent_streams" json:"max_concurrent_streams"`
	// ValidationPolicy is one of default, skip, abort
	ValidationPolicy string `yaml:"validation_policy" json:"validation_policy"`
	// PersistEveryPages persists state every N pages (1 = every page)
	PersistEveryPages int `yaml:"persist_every_pages" json:"persist_every_pages"`
}

// StateConfig selects the state backend.
type StateConfig struct {
	// Backend is one of file, sqlite, s3, gcs, mongodb, memory
	Backend    string `yaml:"backend" json:"backend"`
	Path       string `yaml:"path" json:"path"`
	DSN        string `yaml:"dsn" json:"dsn"`
	Bucket     string `yaml:"bucket" json:"bucket"`
	Key        string `yaml:"key" json:"key"`
	Region     string `yaml:"region" json:"region"`
	Database   string `yaml:"database" json:"database"`
	Collection string `yaml:"collection" json:"collection"`
}

// OutputConfig selects where Singer messages are written.
type OutputConfig struct {
	// Type is one of stdout, file, kafka
	Type        string   `yaml:"type" json:"type"`
	Path        string   `yaml:"path" json:"path"`
	Compression string   `yaml:"compression" json:"compression"`
	Brokers     []string `yaml:"brokers" json:"brokers"`
	Topic       string   `yaml:"topic" json:"topic"`
}

// AuthConfig selects the credential provider.
type AuthConfig struct {
	// Type is one of api_key, oauth2, jwt
	Type         string   `yaml:"type" json:"type"`
	TokenURL     string   `yaml:"token_url" json:"token_url"`
	ClientID     string   `yaml:"client_id" json:"client_id"`
	ClientSecret string   `yaml:"client_secret" json:"client_secret"`
	Scopes       []string `yaml:"scopes" json:"scopes"`
	Username     string   `yaml:"username" json:"username"`
	Password     string   `yaml:"password" json:"password"`
}

// DatabaseConfig configures SQL-backed streams.
type DatabaseConfig struct {
	// Driver is one of postgres, mysql, sqlserver, sqlite
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

// ObservabilityConfig contains logging, metrics and tracing settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level" json:"log_level"`
	LogEncoding string `yaml:"log_encoding" json:"log_encoding"`
	// MetricsAddr serves /metrics when set, e.g. ":9102"
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	// Tracing enables the stdout (stderr) span exporter
	Tracing           bool    `yaml:"tracing" json:"tracing"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
}

var (
	validPolicies = map[string]bool{"default": true, "skip": true, "abort": true}
	validBackends = map[string]bool{"file": true, "sqlite": true, "s3": true, "gcs": true, "mongodb": true, "memory": true}
	validOutputs  = map[string]bool{"stdout": true, "file": true, "kafka": true}
	validAuth     = map[string]bool{"api_key": true, "oauth2": true, "jwt": true}
)

// NewConfig returns a Config with defaults applied.
func NewConfig() *Config {
	return &Config{
		APIURL:  "https://api.tilroy.com",
		Streams: make(map[string]StreamConfig),
		Reliability: ReliabilityConfig{
			RetryAttempts:   5,
			RetryDelay:      time.Second,
			RetryMultiplier: 2.0,
			MaxRetryDelay:   60 * time.Second,
			RequestTimeout:  300 * time.Second,
			RateLimitPerSec: 0,
			RateLimitBurst:  1,
		},
		Sync: SyncConfig{
			MaxConcurrentStreams: 2,
			ValidationPolicy:     "default",
			PersistEveryPages:    1,
		},
		State: StateConfig{
			Backend: "file",
			Path:    "state.json",
		},
		Output: OutputConfig{
			Type: "stdout",
		},
		Auth: AuthConfig{
			Type: "api_key",
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogEncoding:       "json",
			TracingSampleRate: 1.0,
		},
	}
}

// Validate validates the configuration for correctness.
func (c *Config) Validate() error {
	if c.APIURL == "" && c.Database.DSN == "" {
		return fmt.Errorf("api_url is required")
	}
	if c.Auth.Type == "" || c.Auth.Type == "api_key" {
		if c.APIURL != "" && (c.TilroyAPIKey == "" || c.XAPIKey == "") {
			return fmt.Errorf("tilroy_api_key and x_api_key are required")
		}
	}
	if c.Auth.Type != "" && !validAuth[c.Auth.Type] {
		return fmt.Errorf("unknown auth type %q", c.Auth.Type)
	}
	if c.Auth.Type == "oauth2" && (c.Auth.TokenURL == "" || c.Auth.ClientID == "") {
		return fmt.Errorf("oauth2 auth requires token_url and client_id")
	}
	if c.Auth.Type == "jwt" && c.Auth.TokenURL == "" {
		return fmt.Errorf("jwt auth requires token_url")
	}
	if c.StartDate != "" {
		if _, err := ParseStartDate(c.StartDate); err != nil {
			return err
		}
	}
	if c.Reliability.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts cannot be negative")
	}
	if c.Reliability.RetryMultiplier < 1 {
		return fmt.Errorf("retry_multiplier must be at least 1")
	}
	if c.Reliability.RateLimitPerSec < 0 {
		return fmt.Errorf("rate_limit_per_sec cannot be negative")
	}
	if c.Reliability.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.Sync.MaxConcurrentStreams <= 0 {
		return fmt.Errorf("max_concurrent_streams must be positive")
	}
	if c.Sync.PersistEveryPages <= 0 {
		return fmt.Errorf("persist_every_pages must be positive")
	}
	if !validPolicies[c.Sync.ValidationPolicy] {
		return fmt.Errorf("unknown validation_policy %q", c.Sync.ValidationPolicy)
	}
	if !validBackends[c.State.Backend] {
		return fmt.Errorf("unknown state backend %q", c.State.Backend)
	}
	if !validOutputs[c.Output.Type] {
		return fmt.Errorf("unknown output type %q", c.Output.Type)
	}
	if c.Output.Type == "kafka" && (len(c.Output.Brokers) == 0 || c.Output.Topic == "") {
		return fmt.Errorf("kafka output requires brokers and topic")
	}
	for name, sc := range c.Streams {
		if sc.PageSize < 0 {
			return fmt.Errorf("stream %s: page_size cannot be negative", name)
		}
		switch strings.ToUpper(sc.ReplicationMethod) {
		case "", "FULL_TABLE", "INCREMENTAL", "LOG_BASED":
		default:
			return fmt.Errorf("stream %s: unknown replication_method %q", name, sc.ReplicationMethod)
		}
	}
	return nil
}

// StartTime returns the parsed start date, or the zero time when unset.
func (c *Config) StartTime() time.Time {
	t, _ := ParseStartDate(c.StartDate)
	return t
}

// ParseStartDate accepts RFC3339 timestamps and plain dates.
func ParseStartDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("start_date %q is not a date or RFC3339 timestamp", s)
}

// IsRateLimited returns true if rate limiting is enabled
func (r *ReliabilityConfig) IsRateLimited() bool {
	return r.RateLimitPerSec > 0
}
