package cmd

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/intentgate/intentgate/internal/adapter/outbound/state"
	"github.com/intentgate/intentgate/internal/config"
)

var (
	resetIncludeAudit bool
	resetForce        bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset IntentGate to a clean state",
	Long: `Reset IntentGate by removing persistent state files.

By default only state.json (with its backup and lock file) is removed. This
clears the persisted rule set, the engine settings changed over the API and
the audit snapshot.

On next start IntentGate boots from the config and the rule file alone.

Optional flags:
  --include-audit   Also remove the SQLite audit archive (audit.archive_path)
                    and the audit file directory (audit.file_dir)
  --force           Skip confirmation prompt

Examples:
  # Reset state only (interactive confirmation)
  intentgate reset

  # Reset everything without prompting
  intentgate reset --include-audit --force`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetIncludeAudit, "include-audit", false, "Also remove the audit archive and audit files")
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	out := cmd.ErrOrStderr()

	// A broken config must not prevent a reset.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		cfg = &config.Config{}
		cfg.SetDefaults()
	}
	statePath := resolveStatePath(cfg)

	targets := []string{statePath, statePath + ".bak"}
	var auditPaths []string
	if resetIncludeAudit && cfg.Audit.ArchivePath != "" {
		// SQLite in WAL mode keeps two side files next to the database.
		for _, suffix := range []string{"", "-wal", "-shm"} {
			auditPaths = append(auditPaths, cfg.Audit.ArchivePath+suffix)
		}
		targets = append(targets, auditPaths...)
	}
	if resetIncludeAudit && cfg.Audit.FileDir != "" {
		auditPaths = append(auditPaths, cfg.Audit.FileDir)
		targets = append(targets, cfg.Audit.FileDir)
	}

	var existing []string
	for _, p := range targets {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		fmt.Fprintln(out, "Nothing to reset, no state files found.")
		return nil
	}

	fmt.Fprintln(out, "The following will be removed:")
	for _, p := range existing {
		fmt.Fprintf(out, "  - %s\n", p)
	}

	if !resetForce {
		fmt.Fprint(out, "\nProceed? [y/N] ")
		answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		answer = strings.TrimSpace(answer)
		if answer != "y" && answer != "Y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	store := state.NewFileStateStore(statePath, slog.New(slog.DiscardHandler))
	removed, err := store.Remove()
	for _, p := range removed {
		fmt.Fprintf(out, "  Removed %s\n", p)
	}
	if err != nil {
		return fmt.Errorf("failed to remove state: %w", err)
	}

	failed := 0
	for _, p := range existing {
		if !slices.Contains(auditPaths, p) {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			fmt.Fprintf(out, "  ERROR removing %s: %v\n", p, err)
			failed++
			continue
		}
		fmt.Fprintf(out, "  Removed %s\n", p)
	}
	if failed > 0 {
		return fmt.Errorf("%d file(s) could not be removed", failed)
	}

	fmt.Fprintln(out, "\nReset complete. IntentGate will start fresh on next launch.")
	return nil
}
