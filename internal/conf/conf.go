package conf

import (
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/oxenfxc/bilibili-autoreply/internal/biz/domain"
	"github.com/oxenfxc/bilibili-autoreply/pkg/retry"
)

// Config is the global configuration snapshot, read once at startup.
// Environment variables carry the AUTOREPLY_ prefix; per-account settings
// live in the account store and override the defaults given here.
type Config struct {
	// HTTP control API
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// SQLite database path; empty means ~/.bilibili-autoreply/autoreply.db
	DBPath string `envconfig:"DB_PATH" default:""`

	// Defaults applied to newly added accounts
	ReplyDelayMin int `envconfig:"REPLY_DELAY_MIN" default:"2"`
	ReplyDelayMax int `envconfig:"REPLY_DELAY_MAX" default:"8"`
	MinReplyGap   int `envconfig:"MIN_REPLY_GAP" default:"60"`
	DailyLimit    int `envconfig:"DAILY_LIMIT" default:"100"`
	ScanInterval  int `envconfig:"SCAN_INTERVAL" default:"8"`

	// Poll cycle bounds
	ScanSessionLimit int `envconfig:"SCAN_SESSION_LIMIT" default:"20"`
	MessageFetchSize int `envconfig:"MESSAGE_FETCH_SIZE" default:"10"`
	MaxMessageAgeHrs int `envconfig:"MAX_MESSAGE_AGE_HOURS" default:"24"`

	// Matching defaults
	DefaultMatchType     string `envconfig:"DEFAULT_MATCH_TYPE" default:"contains"`
	DefaultCaseSensitive bool   `envconfig:"DEFAULT_CASE_SENSITIVE" default:"true"`
	RegexFullMatch       bool   `envconfig:"REGEX_FULL_MATCH" default:"false"`

	// Retry schedule for transient network errors
	RetryAttempts  int `envconfig:"RETRY_ATTEMPTS" default:"3"`
	RetryInitialMS int `envconfig:"RETRY_INITIAL_MS" default:"1000"`
	RetryMaxMS     int `envconfig:"RETRY_MAX_MS" default:"10000"`

	Debug bool `envconfig:"DEBUG" default:"false"`
}

// Load parses the configuration from the environment and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("AUTOREPLY", &cfg); err != nil {
		return nil, err
	}

	if cfg.DBPath == "" {
		homeDir, _ := os.UserHomeDir()
		cfg.DBPath = filepath.Join(homeDir, ".bilibili-autoreply", "autoreply.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects invalid values before any poller starts
func (c *Config) Validate() error {
	if err := c.DefaultSettings().Validate(); err != nil {
		return &ConfigError{Field: "reply settings", Message: err.Error()}
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return &ConfigError{Field: "HTTP_PORT", Message: "must be a valid port"}
	}
	if c.ScanSessionLimit <= 0 {
		return &ConfigError{Field: "SCAN_SESSION_LIMIT", Message: "must be positive"}
	}
	if c.MessageFetchSize <= 0 {
		return &ConfigError{Field: "MESSAGE_FETCH_SIZE", Message: "must be positive"}
	}
	if c.MaxMessageAgeHrs <= 0 {
		return &ConfigError{Field: "MAX_MESSAGE_AGE_HOURS", Message: "must be positive"}
	}
	if !domain.ValidMatchType(domain.MatchType(c.DefaultMatchType)) {
		return &ConfigError{Field: "DEFAULT_MATCH_TYPE", Message: "unknown match type"}
	}
	if c.RetryAttempts < 0 {
		return &ConfigError{Field: "RETRY_ATTEMPTS", Message: "must not be negative"}
	}
	if c.RetryInitialMS <= 0 || c.RetryMaxMS < c.RetryInitialMS {
		return &ConfigError{Field: "RETRY_INITIAL_MS/RETRY_MAX_MS", Message: "invalid retry intervals"}
	}
	return nil
}

// DefaultSettings returns the reply settings applied to new accounts
func (c *Config) DefaultSettings() domain.ReplySettings {
	return domain.ReplySettings{
		ReplyDelayMin: c.ReplyDelayMin,
		ReplyDelayMax: c.ReplyDelayMax,
		MinReplyGap:   c.MinReplyGap,
		DailyLimit:    c.DailyLimit,
		ScanInterval:  c.ScanInterval,
	}
}

// MatchOptions returns the global matcher options
func (c *Config) MatchOptions() domain.MatchOptions {
	return domain.MatchOptions{RegexFullMatch: c.RegexFullMatch}
}

// RetryConfig returns the backoff schedule for transient errors
func (c *Config) RetryConfig() retry.BackoffConfig {
	return retry.BackoffConfig{
		InitialInterval: time.Duration(c.RetryInitialMS) * time.Millisecond,
		MaxInterval:     time.Duration(c.RetryMaxMS) * time.Millisecond,
		Multiplier:      2.0,
		Jitter:          true,
		MaxRetries:      c.RetryAttempts,
	}
}

// MaxMessageAge returns how old a message may be and still get a reply
func (c *Config) MaxMessageAge() time.Duration {
	return time.Duration(c.MaxMessageAgeHrs) * time.Hour
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
