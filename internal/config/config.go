// Package config provides configuration types for IntentGate.
//
// Configuration is file-based (intentgate.yaml) with environment overrides
// using the INTENTGATE_ prefix, e.g. INTENTGATE_SERVER_HTTP_ADDR. Rules and
// engine settings edited at runtime live in the state file, not here.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/intentgate/intentgate/internal/adapter/outbound/memory"
)

// Config is the top-level configuration for IntentGate.
type Config struct {
	// Server configures the HTTP listener and logging.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Engine holds the initial engine settings. Settings saved in the
	// state file take precedence once they exist.
	Engine EngineConfig `yaml:"engine" mapstructure:"engine"`

	// Rules configures the rule file and its watcher.
	Rules RulesConfig `yaml:"rules" mapstructure:"rules"`

	// Audit configures the in-memory log, async persistence and archive.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// State configures the persisted state file.
	State StateConfig `yaml:"state" mapstructure:"state"`

	// Delivery configures where dispatched simulation messages go.
	Delivery DeliveryConfig `yaml:"delivery" mapstructure:"delivery"`

	// Tracing configures OpenTelemetry export.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// DevMode enables debug logging and traces every decision.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on. Defaults to "127.0.0.1:8080".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// LogFormat selects the slog handler.
	LogFormat string `yaml:"log_format" mapstructure:"log_format" validate:"omitempty,oneof=text json"`

	// TLSCert and TLSKey enable HTTPS when both are set.
	TLSCert string `yaml:"tls_cert" mapstructure:"tls_cert" validate:"required_with=TLSKey"`
	TLSKey  string `yaml:"tls_key" mapstructure:"tls_key" validate:"required_with=TLSCert"`

	// AllowedOrigins lists browser origins accepted by the API.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins" validate:"omitempty,dive,url"`

	// AllowRemoteAdmin opens the management endpoints to non-loopback
	// clients.
	AllowRemoteAdmin bool `yaml:"allow_remote_admin" mapstructure:"allow_remote_admin"`

	// APIRateLimit is the per-IP request budget per minute for remote
	// clients. Defaults to 600; negative disables limiting.
	APIRateLimit int `yaml:"api_rate_limit" mapstructure:"api_rate_limit"`
}

// EngineConfig holds the initial engine settings.
type EngineConfig struct {
	// Enabled turns interception on. Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// TargetPackages restricts interception to these source packages.
	// Empty targets every package.
	TargetPackages []string `yaml:"target_packages" mapstructure:"target_packages" validate:"omitempty,dive,required"`

	// RecordUnmatched audits in-scope messages no rule matched. Defaults to
	// true.
	RecordUnmatched bool `yaml:"record_unmatched" mapstructure:"record_unmatched"`
}

// RulesConfig configures the rule file.
type RulesConfig struct {
	// File is a JSON or YAML rule document. When empty, rules come from the
	// state file and the management API only.
	File string `yaml:"file" mapstructure:"file" validate:"omitempty,rules_source"`

	// Watch reloads the rule file when it changes on disk.
	Watch bool `yaml:"watch" mapstructure:"watch"`

	// WatchDebounce is the quiet period before a change triggers a reload.
	// Defaults to "200ms".
	WatchDebounce string `yaml:"watch_debounce" mapstructure:"watch_debounce" validate:"omitempty,duration"`
}

// AuditConfig configures the audit pipeline.
type AuditConfig struct {
	// Capacity is the number of entries kept in the in-memory log.
	// Defaults to memory.DefaultAuditCapacity (100).
	Capacity int `yaml:"capacity" mapstructure:"capacity" validate:"omitempty,min=1"`

	// ChannelSize is the buffer size for the persistence channel.
	// Defaults to 1000.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of entries written per sink call.
	// Defaults to 100.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often pending entries are flushed. Defaults to "1s".
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty,duration"`

	// SendTimeout is how long a simulation's audit entry may wait on a full
	// channel before it is dropped. Intercepted messages never wait.
	// Defaults to "0s".
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty,duration"`

	// WarningThreshold is the channel fill percentage that logs a warning.
	// Defaults to 80.
	WarningThreshold int `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"omitempty,min=0,max=100"`

	// ArchivePath enables the SQLite archive when set.
	ArchivePath string `yaml:"archive_path" mapstructure:"archive_path"`

	// ArchiveRetention removes archived entries older than this (e.g. "720h").
	ArchiveRetention string `yaml:"archive_retention" mapstructure:"archive_retention" validate:"omitempty,duration"`

	// ArchiveMaxEntries keeps at most this many archived entries.
	ArchiveMaxEntries int64 `yaml:"archive_max_entries" mapstructure:"archive_max_entries" validate:"omitempty,min=0"`

	// ArchivePruneSchedule is a 5-field cron expression. Defaults to
	// "0 3 * * *".
	ArchivePruneSchedule string `yaml:"archive_prune_schedule" mapstructure:"archive_prune_schedule" validate:"omitempty,cron_schedule"`

	// FileDir enables rotating JSON Lines audit files in this directory.
	FileDir string `yaml:"file_dir" mapstructure:"file_dir"`

	// FileRetentionDays is how long audit files are kept. Defaults to 7.
	FileRetentionDays int `yaml:"file_retention_days" mapstructure:"file_retention_days" validate:"omitempty,min=1"`

	// FileMaxSizeMB rotates a file once it reaches this size. Defaults to 100.
	FileMaxSizeMB int `yaml:"file_max_size_mb" mapstructure:"file_max_size_mb" validate:"omitempty,min=1"`

	// Stdout streams every persisted entry to standard output as JSON Lines.
	Stdout bool `yaml:"stdout" mapstructure:"stdout"`
}

// StateConfig configures the persisted state file.
type StateConfig struct {
	// Path is the state file. Defaults to ~/.intentgate/state.json.
	Path string `yaml:"path" mapstructure:"path"`
}

// DeliveryConfig configures dispatch of simulated messages.
type DeliveryConfig struct {
	// DefaultMode is used when a simulation does not name a mode.
	DefaultMode string `yaml:"default_mode" mapstructure:"default_mode" validate:"omitempty,oneof=activity service broadcast"`

	// WebhookURL receives dispatched messages. When empty they are logged.
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`

	// Timeout bounds one delivery. Defaults to "10s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`

	// Headers are added to every webhook request.
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	// Enabled exports spans and decision metrics.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Sampler is always, never or ratio. Defaults to "always".
	Sampler string `yaml:"sampler" mapstructure:"sampler" validate:"omitempty,oneof=always never ratio"`

	// SampleRatio is used by the ratio sampler.
	SampleRatio float64 `yaml:"sample_ratio" mapstructure:"sample_ratio" validate:"min=0,max=1"`

	// MetricInterval is the export period for decision metrics.
	// Defaults to "1m".
	MetricInterval string `yaml:"metric_interval" mapstructure:"metric_interval" validate:"omitempty,duration"`

	// Output is stdout or stderr. Defaults to "stderr".
	Output string `yaml:"output" mapstructure:"output" validate:"omitempty,oneof=stdout stderr"`
}

// SetDevDefaults applies development defaults. They are applied before
// validation.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.LogLevel = "debug"
	if c.Rules.File != "" && !viper.IsSet("rules.watch") {
		c.Rules.Watch = true
	}
	if c.Tracing.Enabled && !viper.IsSet("tracing.sampler") {
		c.Tracing.Sampler = "always"
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only; network access needs an explicit http_addr.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = "text"
	}
	if c.Server.APIRateLimit == 0 {
		c.Server.APIRateLimit = 600
	}

	// viper.IsSet distinguishes "not set" from "explicitly false".
	if !viper.IsSet("engine.enabled") {
		c.Engine.Enabled = true
	}
	if !viper.IsSet("engine.record_unmatched") {
		c.Engine.RecordUnmatched = true
	}

	if c.Rules.WatchDebounce == "" {
		c.Rules.WatchDebounce = "200ms"
	}

	if c.Audit.Capacity == 0 {
		c.Audit.Capacity = memory.DefaultAuditCapacity
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "0s"
	}
	if c.Audit.WarningThreshold == 0 {
		c.Audit.WarningThreshold = 80
	}
	if c.Audit.FileRetentionDays == 0 {
		c.Audit.FileRetentionDays = 7
	}
	if c.Audit.FileMaxSizeMB == 0 {
		c.Audit.FileMaxSizeMB = 100
	}
	if c.Audit.ArchivePruneSchedule == "" {
		c.Audit.ArchivePruneSchedule = "0 3 * * *"
	}

	if c.State.Path == "" {
		c.State.Path = DefaultStatePath()
	}

	if c.Delivery.DefaultMode == "" {
		c.Delivery.DefaultMode = "activity"
	}
	if c.Delivery.Timeout == "" {
		c.Delivery.Timeout = "10s"
	}

	if c.Tracing.Sampler == "" {
		c.Tracing.Sampler = "always"
	}
	if c.Tracing.MetricInterval == "" {
		c.Tracing.MetricInterval = "1m"
	}
	if c.Tracing.Output == "" {
		c.Tracing.Output = "stderr"
	}
}

// DefaultStatePath returns ~/.intentgate/state.json, or ./state.json when
// the home directory is unknown.
func DefaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "state.json"
	}
	return filepath.Join(home, ".intentgate", "state.json")
}
