package config

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
)

// validConfig returns a defaulted config that passes validation.
func validConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"yaml rules", func(c *Config) { c.Rules.File = "/etc/intentgate/rules.yml" }, ""},
		{"json rules watched", func(c *Config) { c.Rules.File = "rules.json"; c.Rules.Watch = true }, ""},
		{"rules bad extension", func(c *Config) { c.Rules.File = "rules.txt" }, "must be a .json, .yaml or .yml file"},
		{"watch without file", func(c *Config) { c.Rules.Watch = true }, "watch requires rules.file"},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "verbose" }, "must be one of"},
		{"bad addr", func(c *Config) { c.Server.HTTPAddr = "localhost" }, "host:port"},
		{"tls cert without key", func(c *Config) { c.Server.TLSCert = "cert.pem" }, "is required when"},
		{"bad origin", func(c *Config) { c.Server.AllowedOrigins = []string{"not a url"} }, "valid URL"},
		{"bad duration", func(c *Config) { c.Audit.FlushInterval = "soon" }, "must be a duration"},
		{"negative duration", func(c *Config) { c.Delivery.Timeout = "-1s" }, "must be a duration"},
		{"bad cron", func(c *Config) { c.Audit.ArchivePruneSchedule = "every night" }, "cron expression"},
		{"bad mode", func(c *Config) { c.Delivery.DefaultMode = "unicast" }, "must be one of"},
		{"bad webhook", func(c *Config) { c.Delivery.WebhookURL = "::" }, "valid URL"},
		{"empty target package", func(c *Config) { c.Engine.TargetPackages = []string{""} }, "is required"},
		{"warning threshold", func(c *Config) { c.Audit.WarningThreshold = 150 }, "at most 100"},
		{"audit stdout", func(c *Config) { c.Audit.Stdout = true }, ""},
		{"audit and tracing on stdout", func(c *Config) {
			c.Audit.Stdout = true
			c.Tracing.Enabled = true
			c.Tracing.Output = "stdout"
		}, "conflicts with tracing.output"},
		{"ratio without value", func(c *Config) { c.Tracing.Sampler = "ratio" }, "sample_ratio"},
		{"ratio out of range", func(c *Config) { c.Tracing.Sampler = "ratio"; c.Tracing.SampleRatio = 2 }, "at most 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDurations_Empty(t *testing.T) {
	t.Parallel()

	d, err := (&Config{}).Durations()
	if err != nil {
		t.Fatalf("Durations() error: %v", err)
	}
	if d != (Durations{}) {
		t.Errorf("Durations() = %+v, want zero", d)
	}
}
