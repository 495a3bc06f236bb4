package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config represents the complete application configuration. Values are
// layered as defaults, then the YAML config file, then SIGNCRATE_* environment
// variables, then command-line overrides.
type Config struct {
	ESign     ESignConfig     `mapstructure:"esign"`
	Download  DownloadConfig  `mapstructure:"download"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
}

// ESignConfig holds the e-signature account and JWT grant credentials.
type ESignConfig struct {
	IntegrationKey string `mapstructure:"integration_key"`
	UserID         string `mapstructure:"user_id"`
	AccountID      string `mapstructure:"account_id"`

	// BasePath is the REST API root, e.g. https://demo.docusign.net/restapi.
	BasePath string `mapstructure:"base_path"`

	// OAuthBasePath overrides the OAuth server derived from BasePath.
	OAuthBasePath  string        `mapstructure:"oauth_base_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// DownloadConfig controls where and how envelopes are written.
type DownloadConfig struct {
	Folder        string        `mapstructure:"folder"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	Language      string        `mapstructure:"language"`
	UnitPause     time.Duration `mapstructure:"unit_pause"`
	CriteriaPause time.Duration `mapstructure:"criteria_pause"`
	PageSize      int           `mapstructure:"page_size"`
}

// RateLimitConfig configures the process-wide call throttle.
type RateLimitConfig struct {
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Spacing           time.Duration `mapstructure:"spacing"`
	Window            time.Duration `mapstructure:"window"`
	StallWait         time.Duration `mapstructure:"stall_wait"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	// Enabled turns run history on or off.
	Enabled   bool   `mapstructure:"enabled"`
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: simple, structured
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// MonitorConfig controls the HTTP endpoint that exposes live run state.
type MonitorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Validate checks settings every command depends on.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("configuration is not loaded")
	}

	var problems []error
	if c.RateLimit.RequestsPerMinute < 1 {
		problems = append(problems, fmt.Errorf("rate_limit.requests_per_minute must be at least 1 (got %d)", c.RateLimit.RequestsPerMinute))
	}
	if c.RateLimit.Spacing < 0 {
		problems = append(problems, fmt.Errorf("rate_limit.spacing must not be negative (got %s)", c.RateLimit.Spacing))
	}
	if c.RateLimit.Window < 0 || c.RateLimit.StallWait < 0 {
		problems = append(problems, errors.New("rate_limit.window and rate_limit.stall_wait must not be negative"))
	}
	if c.Download.MaxConcurrent < 1 {
		problems = append(problems, fmt.Errorf("download.max_concurrent must be at least 1 (got %d)", c.Download.MaxConcurrent))
	}
	if c.Download.PageSize < 0 {
		problems = append(problems, fmt.Errorf("download.page_size must not be negative (got %d)", c.Download.PageSize))
	}
	if strings.TrimSpace(c.Download.Folder) == "" {
		problems = append(problems, errors.New("download.folder is required"))
	}
	return errors.Join(problems...)
}

// ValidateRemote additionally checks the credentials needed to call the
// e-signature service.
func (c *Config) ValidateRemote() error {
	if err := c.Validate(); err != nil {
		return err
	}

	required := []struct{ key, value string }{
		{"esign.integration_key", c.ESign.IntegrationKey},
		{"esign.user_id", c.ESign.UserID},
		{"esign.account_id", c.ESign.AccountID},
		{"esign.base_path", c.ESign.BasePath},
		{"esign.private_key_path", c.ESign.PrivateKeyPath},
	}
	var missing []string
	for _, setting := range required {
		if strings.TrimSpace(setting.value) == "" {
			missing = append(missing, setting.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}
