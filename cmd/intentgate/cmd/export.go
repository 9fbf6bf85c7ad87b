package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/intentgate/intentgate/internal/domain/rule"
)

var (
	exportFormat string
	exportRules  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the loaded rules as JSON or YAML",
	Long: `Load the rule set and print the records that survived compilation, in
declaration order. The output loads back to an equivalent rule set.

Without --rules the rule set comes from rules.file, or from state.json
when no rule file is configured.

Examples:
  intentgate export
  intentgate export --format yaml > rules.yaml
  intentgate export --rules legacy.json --format yaml`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "output format: json or yaml")
	exportCmd.Flags().StringVar(&exportRules, "rules", "", "rule file (default: rules.file, then state.json)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadOfflineConfig()
	if err != nil {
		return err
	}
	logger := offlineLogger(cmd.ErrOrStderr(), cfg)

	rules, _, err := loadOfflineRules(commandContext(cmd), cfg, exportRules, logger)
	if err != nil {
		return err
	}

	data, err := rule.Encode(rules.Snapshot().Configs(), exportFormat)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	if err != nil {
		return fmt.Errorf("write rules: %w", err)
	}
	return nil
}
