package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/intentgate/intentgate/internal/adapter/outbound/cel"
	"github.com/intentgate/intentgate/internal/domain/rule"
	"github.com/intentgate/intentgate/internal/service"
)

var validateStrict bool

var validateCmd = &cobra.Command{
	Use:   "validate <rules-file>",
	Short: "Check a rule file and print its diagnostics",
	Long: `Compile a rule file exactly as start and reload would, and report which
records load, which are skipped and why.

Skipped records are not an error unless --strict is set; a document that
is not a list of rule records always is.

Examples:
  intentgate validate rules.yaml
  intentgate validate --strict rules.json`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "fail when any record is skipped or has warnings")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := args[0]
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read rule file: %w", err)
	}

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create condition evaluator: %w", err)
	}
	rules := service.NewRuleStore(newLogger(cmd.ErrOrStderr(), "text", slog.LevelWarn), service.WithConditionCompiler(evaluator))

	report, err := rules.Load(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	printLoadReport(cmd, path, report)

	if validateStrict && (report.Skipped > 0 || len(report.Warnings) > 0) {
		return fmt.Errorf("%s: %d skipped, %d warnings", path, report.Skipped, len(report.Warnings))
	}
	return nil
}

func printLoadReport(cmd *cobra.Command, path string, report *rule.LoadReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d loaded, %d skipped (version %s)\n", path, report.Loaded, report.Skipped, report.Version)
	for _, d := range report.Diagnostics {
		fmt.Fprintf(out, "  skipped  %s\n", d)
	}
	for _, w := range report.Warnings {
		fmt.Fprintf(out, "  warning  %s\n", w)
	}
}
