// Package config provides centralized configuration management for signcrate.
// Layers, lowest precedence first:
// Layer 1: built-in defaults
// Layer 2: YAML config file (explicit path, or discovered in XDG config paths)
// Layer 3: SIGNCRATE_* environment variables and runtime overrides
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// AppName names the config, data and binary paths.
	AppName = "signcrate"

	// EnvPrefix prefixes every environment variable the loader reads.
	EnvPrefix = "SIGNCRATE_"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// Load builds the configuration. configFile may be empty, in which case the
// first existing config.yaml in the XDG config paths is used, if any.
// runtimeOverrides are nested maps keyed like the YAML file and win over
// every other layer.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, configFile string, runtimeOverrides ...map[string]any) (*Config, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	SetDefaults(v)

	path := strings.TrimSpace(configFile)
	if path == "" {
		path = discoverConfigFile()
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if len(envOverrides) > 0 {
		if err := v.MergeConfigMap(envOverrides); err != nil {
			return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
		}
	}

	for _, overrides := range runtimeOverrides {
		if len(overrides) == 0 {
			continue
		}
		if err := v.MergeConfigMap(overrides); err != nil {
			return nil, fmt.Errorf("failed to apply runtime overrides: %w", err)
		}
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	setConfig(cfg)
	return cfg, nil
}

// SetDefaults registers default values for every setting.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("esign.base_path", "https://demo.docusign.net/restapi")
	v.SetDefault("esign.oauth_base_path", "")
	v.SetDefault("esign.integration_key", "")
	v.SetDefault("esign.user_id", "")
	v.SetDefault("esign.account_id", "")
	v.SetDefault("esign.private_key_path", "./private.key")
	v.SetDefault("esign.timeout", "30s")

	v.SetDefault("download.folder", "./downloads")
	v.SetDefault("download.max_concurrent", 3)
	v.SetDefault("download.language", "pt_BR")
	v.SetDefault("download.unit_pause", "1s")
	v.SetDefault("download.criteria_pause", "500ms")
	v.SetDefault("download.page_size", 100)

	// 300 calls/minute with 200ms spacing stays under the service's
	// 1000 calls/hour burst limits for typical runs.
	v.SetDefault("rate_limit.requests_per_minute", 300)
	v.SetDefault("rate_limit.spacing", "200ms")
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("rate_limit.stall_wait", "1m")

	v.SetDefault("store.enabled", true)
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "simple")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.addr", "127.0.0.1:8089")
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

func discoverConfigFile() string {
	for _, candidate := range gfconfig.GetAppConfigPaths(AppName) {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			continue
		}
	}
	return ""
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	prefix := EnvPrefix
	return []EnvVarSpec{
		// E-signature credentials
		{Name: prefix + "INTEGRATION_KEY", Path: []string{"esign", "integration_key"}, Type: EnvString},
		{Name: prefix + "USER_ID", Path: []string{"esign", "user_id"}, Type: EnvString},
		{Name: prefix + "ACCOUNT_ID", Path: []string{"esign", "account_id"}, Type: EnvString},
		{Name: prefix + "BASE_PATH", Path: []string{"esign", "base_path"}, Type: EnvString},
		{Name: prefix + "OAUTH_BASE_PATH", Path: []string{"esign", "oauth_base_path"}, Type: EnvString},
		{Name: prefix + "PRIVATE_KEY_PATH", Path: []string{"esign", "private_key_path"}, Type: EnvString},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "TIMEOUT", Path: []string{"esign", "timeout"}, Type: EnvString},

		// Download behaviour
		{Name: prefix + "DOWNLOAD_FOLDER", Path: []string{"download", "folder"}, Type: EnvString},
		{Name: prefix + "MAX_CONCURRENT", Path: []string{"download", "max_concurrent"}, Type: EnvInt},
		{Name: prefix + "LANGUAGE", Path: []string{"download", "language"}, Type: EnvString},
		{Name: prefix + "UNIT_PAUSE", Path: []string{"download", "unit_pause"}, Type: EnvString},
		{Name: prefix + "CRITERIA_PAUSE", Path: []string{"download", "criteria_pause"}, Type: EnvString},
		{Name: prefix + "PAGE_SIZE", Path: []string{"download", "page_size"}, Type: EnvInt},

		// Rate limiting
		{Name: prefix + "REQUESTS_PER_MINUTE", Path: []string{"rate_limit", "requests_per_minute"}, Type: EnvInt},
		{Name: prefix + "RATE_SPACING", Path: []string{"rate_limit", "spacing"}, Type: EnvString},
		{Name: prefix + "RATE_WINDOW", Path: []string{"rate_limit", "window"}, Type: EnvString},
		{Name: prefix + "RATE_STALL_WAIT", Path: []string{"rate_limit", "stall_wait"}, Type: EnvString},

		// Logging config
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Store config
		{Name: prefix + "DB_ENABLED", Path: []string{"store", "enabled"}, Type: EnvBool},
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Monitor config
		{Name: prefix + "MONITOR_ENABLED", Path: []string{"monitor", "enabled"}, Type: EnvBool},
		{Name: prefix + "MONITOR_ADDR", Path: []string{"monitor", "addr"}, Type: EnvString},
	}
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}
