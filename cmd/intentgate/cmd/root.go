// Package cmd provides the CLI commands for IntentGate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/intentgate/intentgate/internal/config"
)

var cfgFile string
var stateFilePath string

var rootCmd = &cobra.Command{
	Use:   "intentgate",
	Short: "IntentGate - rule-based message interception engine",
	Long: `IntentGate inspects outgoing messages against an ordered list of rules
and decides, per message, whether to let it through, log it, block it or
rewrite it before delivery.

Quick start:
  1. Write a rule file: rules.yaml
  2. Run: intentgate start --dev

Configuration:
  Config is loaded from intentgate.yaml in the current directory,
  $HOME/.intentgate/, or /etc/intentgate/.

  Environment variables can override config values with the INTENTGATE_ prefix.
  Example: INTENTGATE_SERVER_HTTP_ADDR=127.0.0.1:9090

Commands:
  start       Start the engine and its HTTP API
  simulate    Run one synthetic message through the rules offline
  validate    Check a rule file and print its diagnostics
  export      Print the loaded rules as JSON or YAML
  stop        Stop the running server
  reset       Reset to clean state (remove state.json)
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./intentgate.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateFilePath, "state", "", "path to state.json file (default: ~/.intentgate/state.json)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

// resolveStatePath picks the state file: --state flag, then the config
// (which also covers INTENTGATE_STATE_PATH), then the default.
func resolveStatePath(cfg *config.Config) string {
	if stateFilePath != "" {
		return stateFilePath
	}
	if cfg != nil && cfg.State.Path != "" {
		return cfg.State.Path
	}
	return config.DefaultStatePath()
}
