package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for intentgate.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the binary itself is
// never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig then returns ConfigFileNotFoundError, which callers
		// treat as "env only".
		viper.SetConfigName("intentgate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: INTENTGATE_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("INTENTGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	return findConfigFileInPaths([]string{
		".",
		filepath.Join(home, ".intentgate"),
		"/etc/intentgate",
	})
}

// findConfigFileInPaths searches the given directories for intentgate.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "intentgate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// envKeys are the scalar keys overridable from the environment. Lists and
// maps are file-only.
var envKeys = []string{
	"server.http_addr",
	"server.log_level",
	"server.log_format",
	"server.tls_cert",
	"server.tls_key",
	"server.allow_remote_admin",
	"server.api_rate_limit",

	"engine.enabled",
	"engine.record_unmatched",

	"rules.file",
	"rules.watch",
	"rules.watch_debounce",

	"audit.capacity",
	"audit.channel_size",
	"audit.batch_size",
	"audit.flush_interval",
	"audit.send_timeout",
	"audit.warning_threshold",
	"audit.archive_path",
	"audit.archive_retention",
	"audit.archive_max_entries",
	"audit.archive_prune_schedule",
	"audit.file_dir",
	"audit.file_retention_days",
	"audit.file_max_size_mb",
	"audit.stdout",

	"state.path",

	"delivery.default_mode",
	"delivery.webhook_url",
	"delivery.timeout",

	"tracing.enabled",
	"tracing.sampler",
	"tracing.sample_ratio",
	"tracing.metric_interval",
	"tracing.output",

	"dev_mode",
}

func bindNestedEnvKeys() {
	for _, k := range envKeys {
		_ = viper.BindEnv(k)
	}
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and validates.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
