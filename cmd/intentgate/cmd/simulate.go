package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/intentgate/intentgate/internal/adapter/outbound/memory"
	"github.com/intentgate/intentgate/internal/domain/delivery"
	"github.com/intentgate/intentgate/internal/domain/message"
	"github.com/intentgate/intentgate/internal/service"
)

var (
	simulateMessage  string
	simulateRules    string
	simulateDispatch bool
	simulateMode     string
	simulateJSON     bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run one synthetic message through the rules offline",
	Long: `Build a message from a JSON or YAML description, evaluate it against the
rule set and print what the engine would do with it. No server is needed.

The message file uses the same shape as the "message" field of
POST /api/v1/simulate:

  {"action": "android.intent.action.VIEW",
   "dataUri": "https://example.com",
   "categories": ["android.intent.category.BROWSABLE"],
   "extras": [{"key": "k", "value": "v", "type": "STRING"}],
   "sourcePackage": "com.example.app"}

With --dispatch the result is handed to the configured deliverer
(delivery.webhook_url, or the log when none is set).

Examples:
  # Simulate against rules.file from the config
  intentgate simulate --message msg.json

  # Simulate against a specific rule file and print the full result
  intentgate simulate --rules rules.yaml --message msg.yaml --json

  # Read the message from stdin and dispatch the outcome
  cat msg.json | intentgate simulate --message - --dispatch --mode service`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVarP(&simulateMessage, "message", "m", "", "message description file (JSON or YAML, - for stdin)")
	simulateCmd.Flags().StringVar(&simulateRules, "rules", "", "rule file (default: rules.file, then state.json)")
	simulateCmd.Flags().BoolVar(&simulateDispatch, "dispatch", false, "hand the result to the deliverer")
	simulateCmd.Flags().StringVar(&simulateMode, "mode", "", "delivery mode: activity, service or broadcast (default: delivery.default_mode)")
	simulateCmd.Flags().BoolVar(&simulateJSON, "json", false, "print the full result as JSON")
	_ = simulateCmd.MarkFlagRequired("message")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadOfflineConfig()
	if err != nil {
		return err
	}
	durations, err := cfg.Durations()
	if err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	logger := offlineLogger(cmd.ErrOrStderr(), cfg)

	modeName := cfg.Delivery.DefaultMode
	if simulateMode != "" {
		modeName = simulateMode
	}
	mode, err := delivery.ParseMode(modeName)
	if err != nil {
		return err
	}

	spec, err := readMessageSpec(simulateMessage, cmd.InOrStdin())
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	rules, _, err := loadOfflineRules(ctx, cfg, simulateRules, logger)
	if err != nil {
		return err
	}

	// The audit service is never started, so decisions stay in memory.
	auditService := service.NewAuditService(memory.NewAuditLog(cfg.Audit.Capacity), logger)
	engine := service.NewInterceptionService(rules,
		service.NewMatchEngine(logger),
		service.NewTransformEngine(logger),
		auditService,
		logger,
		service.WithSettings(settingsFromConfig(cfg)),
	)
	simulation := service.NewSimulationService(engine, logger,
		service.WithDeliverer(newDeliverer(cfg, durations.DeliveryTimeout, logger)),
		service.WithDispatchTimeout(durations.DeliveryTimeout),
	)

	res := simulation.RunTest(ctx, spec, simulateDispatch, mode)

	out := cmd.OutOrStdout()
	if simulateJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	_, err = fmt.Fprintln(out, res.Description)
	return err
}

// readMessageSpec decodes a message description from path. YAML is chosen
// by extension; "-" reads JSON from stdin.
func readMessageSpec(path string, stdin io.Reader) (message.Spec, error) {
	var spec message.Spec

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return spec, fmt.Errorf("failed to read message: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &spec)
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		dec.UseNumber()
		err = dec.Decode(&spec)
	}
	if err != nil {
		return spec, fmt.Errorf("invalid message %s: %w", path, err)
	}
	return spec, nil
}
