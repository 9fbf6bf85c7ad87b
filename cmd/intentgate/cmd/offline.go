package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/intentgate/intentgate/internal/adapter/outbound/cel"
	"github.com/intentgate/intentgate/internal/adapter/outbound/rulefile"
	"github.com/intentgate/intentgate/internal/adapter/outbound/state"
	"github.com/intentgate/intentgate/internal/config"
	"github.com/intentgate/intentgate/internal/domain/rule"
	"github.com/intentgate/intentgate/internal/service"
)

var errNoRules = errors.New("no rules to load: pass --rules, set rules.file or run start once to persist a rule set")

// loadOfflineConfig loads and validates the config for commands that run
// without a server.
func loadOfflineConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// offlineLogger logs warnings and above to w unless the config asks for
// debug output.
func offlineLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn
	if parseLogLevel(cfg.Server.LogLevel) == slog.LevelDebug {
		level = slog.LevelDebug
	}
	return newLogger(w, cfg.Server.LogFormat, level)
}

// loadOfflineRules builds a rule store from path, falling back to
// rules.file and then to the rules persisted in state.json.
func loadOfflineRules(ctx context.Context, cfg *config.Config, path string, logger *slog.Logger) (*service.RuleStore, *rule.LoadReport, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create condition evaluator: %w", err)
	}
	if path == "" {
		path = cfg.Rules.File
	}

	if path != "" {
		rules := service.NewRuleStore(logger,
			service.WithConditionCompiler(evaluator),
			service.WithRuleSource(rulefile.NewSource(path)),
		)
		report, err := rules.Reload(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load rules from %s: %w", path, err)
		}
		return rules, report, nil
	}

	store := state.NewFileStateStore(resolveStatePath(cfg), logger)
	if !store.Exists() {
		return nil, nil, errNoRules
	}
	appState, err := store.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load state: %w", err)
	}
	rules := service.NewRuleStore(logger, service.WithConditionCompiler(evaluator))
	report := rules.LoadFromState(appState)
	if report == nil {
		return nil, nil, errNoRules
	}
	return rules, report, nil
}

// settingsFromConfig returns the engine settings named in the config.
func settingsFromConfig(cfg *config.Config) service.EngineSettings {
	return service.EngineSettings{
		Enabled:         cfg.Engine.Enabled,
		TargetPackages:  cfg.Engine.TargetPackages,
		RecordUnmatched: cfg.Engine.RecordUnmatched,
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
