package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestConfig_SetDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	var cfg Config
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8080")
	}
	if !cfg.Engine.Enabled || !cfg.Engine.RecordUnmatched {
		t.Errorf("engine defaults = %+v, want enabled and record_unmatched", cfg.Engine)
	}
	if cfg.Audit.Capacity != 100 || cfg.Audit.BatchSize != 100 || cfg.Audit.SendTimeout != "0s" {
		t.Errorf("audit defaults = %+v", cfg.Audit)
	}
	if cfg.Audit.ArchivePruneSchedule != "0 3 * * *" {
		t.Errorf("prune schedule = %q", cfg.Audit.ArchivePruneSchedule)
	}
	if cfg.Audit.FileDir != "" || cfg.Audit.FileRetentionDays != 7 || cfg.Audit.FileMaxSizeMB != 100 {
		t.Errorf("audit file defaults = %q %d %d", cfg.Audit.FileDir, cfg.Audit.FileRetentionDays, cfg.Audit.FileMaxSizeMB)
	}
	if cfg.Delivery.DefaultMode != "activity" {
		t.Errorf("delivery mode = %q", cfg.Delivery.DefaultMode)
	}
	if filepath.Base(cfg.State.Path) != "state.json" {
		t.Errorf("state path = %q", cfg.State.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg := Config{
		Server:   ServerConfig{HTTPAddr: ":9090", APIRateLimit: -1},
		Audit:    AuditConfig{Capacity: 10, FlushInterval: "5s"},
		Delivery: DeliveryConfig{DefaultMode: "broadcast"},
		State:    StateConfig{Path: "/var/lib/intentgate/state.json"},
	}
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != ":9090" || cfg.Server.APIRateLimit != -1 {
		t.Errorf("server overwritten: %+v", cfg.Server)
	}
	if cfg.Audit.Capacity != 10 || cfg.Audit.FlushInterval != "5s" {
		t.Errorf("audit overwritten: %+v", cfg.Audit)
	}
	if cfg.Delivery.DefaultMode != "broadcast" {
		t.Errorf("delivery mode overwritten: %q", cfg.Delivery.DefaultMode)
	}
	if cfg.State.Path != "/var/lib/intentgate/state.json" {
		t.Errorf("state path overwritten: %q", cfg.State.Path)
	}
}

func TestConfig_SetDevDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg := Config{DevMode: true, Rules: RulesConfig{File: "rules.yaml"}}
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.Server.LogLevel)
	}
	if !cfg.Rules.Watch {
		t.Error("dev mode should watch the rule file")
	}

	off := Config{Server: ServerConfig{LogLevel: "warn"}}
	off.SetDevDefaults()
	if off.Server.LogLevel != "warn" {
		t.Error("SetDevDefaults changed a non-dev config")
	}
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "intentgate.yaml")
	data := `
server:
  http_addr: "127.0.0.1:9000"
engine:
  enabled: false
  target_packages: [com.example.app]
rules:
  file: ` + filepath.Join(dir, "rules.yaml") + `
audit:
  archive_path: ` + filepath.Join(dir, "audit.db") + `
  archive_retention: 720h
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("INTENTGATE_SERVER_LOG_LEVEL", "warn")
	t.Setenv("INTENTGATE_DELIVERY_DEFAULT_MODE", "service")

	InitViper(path)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9000" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Server.LogLevel != "warn" {
		t.Errorf("LogLevel from env = %q, want warn", cfg.Server.LogLevel)
	}
	if cfg.Delivery.DefaultMode != "service" {
		t.Errorf("DefaultMode from env = %q, want service", cfg.Delivery.DefaultMode)
	}
	if cfg.Engine.Enabled {
		t.Error("explicit engine.enabled=false was overridden by default")
	}
	if !cfg.Engine.RecordUnmatched {
		t.Error("record_unmatched should default to true")
	}
	if len(cfg.Engine.TargetPackages) != 1 || cfg.Engine.TargetPackages[0] != "com.example.app" {
		t.Errorf("TargetPackages = %v", cfg.Engine.TargetPackages)
	}
	if ConfigFileUsed() != path {
		t.Errorf("ConfigFileUsed() = %q", ConfigFileUsed())
	}

	d, err := cfg.Durations()
	if err != nil {
		t.Fatalf("Durations() error: %v", err)
	}
	if d.ArchiveRetention != 720*time.Hour || d.WatchDebounce != 200*time.Millisecond || d.DeliveryTimeout != 10*time.Second {
		t.Errorf("durations = %+v", d)
	}
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "intentgate.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	InitViper(path)
	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig() expected error for malformed YAML")
	}
}

func TestFindConfigFileInPaths(t *testing.T) {
	t.Parallel()

	empty := t.TempDir()
	withYML := t.TempDir()
	if err := os.WriteFile(filepath.Join(withYML, "intentgate.yml"), []byte("dev_mode: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// The binary itself has no extension and must not match.
	if err := os.WriteFile(filepath.Join(empty, "intentgate"), []byte("ELF"), 0o700); err != nil {
		t.Fatal(err)
	}

	if got := findConfigFileInPaths([]string{empty}); got != "" {
		t.Errorf("matched %q in a directory without a YAML file", got)
	}
	want := filepath.Join(withYML, "intentgate.yml")
	if got := findConfigFileInPaths([]string{empty, withYML}); got != want {
		t.Errorf("findConfigFileInPaths() = %q, want %q", got, want)
	}
}
