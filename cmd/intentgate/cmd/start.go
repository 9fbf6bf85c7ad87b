package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/intentgate/intentgate/internal/adapter/inbound/admin"
	"github.com/intentgate/intentgate/internal/adapter/inbound/http"
	"github.com/intentgate/intentgate/internal/adapter/outbound/auditfile"
	"github.com/intentgate/intentgate/internal/adapter/outbound/cel"
	"github.com/intentgate/intentgate/internal/adapter/outbound/dispatch"
	"github.com/intentgate/intentgate/internal/adapter/outbound/memory"
	"github.com/intentgate/intentgate/internal/adapter/outbound/rulefile"
	"github.com/intentgate/intentgate/internal/adapter/outbound/sqlite"
	"github.com/intentgate/intentgate/internal/adapter/outbound/state"
	"github.com/intentgate/intentgate/internal/adapter/outbound/telemetry"
	"github.com/intentgate/intentgate/internal/config"
	"github.com/intentgate/intentgate/internal/domain/audit"
	"github.com/intentgate/intentgate/internal/domain/delivery"
	"github.com/intentgate/intentgate/internal/domain/rule"
	"github.com/intentgate/intentgate/internal/service"
)

// shutdownTimeout bounds the telemetry flush on exit.
const shutdownTimeout = 5 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the engine and its HTTP API",
	Long: `Start the IntentGate engine.

The rule set is loaded from rules.file when configured, otherwise from the
rules persisted in state.json by a previous run. The HTTP API serves the
decision path (/api/v1/intercept, /api/v1/simulate), rule and audit
management, /health and /metrics.

Examples:
  # Start with config file settings
  intentgate start

  # Start in development mode (debug logging, rule file watching)
  intentgate start --dev

  # Start with a specific config file
  intentgate --config /path/to/intentgate.yaml start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, rule file watching)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load without validation so CLI flags can override first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C kills.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(os.Stderr, cfg.Server.LogFormat, parseLogLevel(cfg.Server.LogLevel))
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, resolveStatePath(cfg), logger); err != nil {
		return err
	}

	logger.Info("intentgate stopped")
	return nil
}

// run wires every component once and blocks until ctx is cancelled or the
// HTTP server fails. Components are released in reverse order of creation.
func run(ctx context.Context, cfg *config.Config, statePath string, logger *slog.Logger) error {
	startTime := time.Now().UTC()

	durations, err := cfg.Durations()
	if err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if cfg.DevMode {
		logger.Warn("development mode enabled; do not use in production")
	}

	// Workers are stopped by the deferred calls below once the server has
	// drained, so they outlive the signal context.
	bg := context.WithoutCancel(ctx)

	// State.
	stateStore := state.NewFileStateStore(statePath, logger)
	stateExisted := stateStore.Exists()
	appState, err := stateStore.Load()
	switch {
	case errors.Is(err, state.ErrCorruptState):
		// Save below copies the unreadable file to .bak first.
		logger.Warn("state file corrupt, starting from defaults", "path", statePath, "backup", statePath+".bak", "error", err)
		appState = stateStore.DefaultState()
		stateExisted = false
	case err != nil:
		return fmt.Errorf("failed to load state: %w", err)
	}
	if err := stateStore.Save(appState); err != nil {
		return fmt.Errorf("failed to save initial state: %w", err)
	}
	logger.Info("state loaded",
		"path", statePath,
		"rules", len(appState.Rules),
		"audit_entries", len(appState.AuditEntries),
	)

	// Telemetry.
	tel, err := telemetry.New(telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    "intentgate",
		ServiceVersion: Version,
		Sampler:        cfg.Tracing.Sampler,
		SampleRatio:    cfg.Tracing.SampleRatio,
		MetricInterval: durations.MetricInterval,
		Writer:         telemetryWriter(cfg.Tracing.Output),
	})
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	// Audit: in-memory log, state snapshot, the optional archive and
	// rotating files.
	auditLog := memory.NewAuditLog(cfg.Audit.Capacity)
	auditLog.Restore(appState.AuditEntries)
	persistence := service.NewStatePersistence(stateStore, auditLog, cfg.Audit.Capacity, logger)
	sinks := []audit.Sink{persistence}

	var archive *sqlite.Archive
	if cfg.Audit.ArchivePath != "" {
		archiveCfg := sqlite.DefaultConfig()
		archiveCfg.Path = cfg.Audit.ArchivePath
		if err := os.MkdirAll(filepath.Dir(archiveCfg.Path), 0o755); err != nil {
			return fmt.Errorf("failed to create archive directory: %w", err)
		}
		archive, err = sqlite.Open(archiveCfg, logger)
		if err != nil {
			return fmt.Errorf("failed to open audit archive: %w", err)
		}
		sinks = append(sinks, archive)
	}

	if cfg.Audit.FileDir != "" {
		files, err := auditfile.Open(auditfile.Config{
			Dir:           cfg.Audit.FileDir,
			RetentionDays: cfg.Audit.FileRetentionDays,
			MaxFileSizeMB: cfg.Audit.FileMaxSizeMB,
		}, logger)
		if err != nil {
			if archive != nil {
				_ = archive.Close()
			}
			return fmt.Errorf("failed to open audit files: %w", err)
		}
		sinks = append(sinks, files)
	}

	if cfg.Audit.Stdout {
		sinks = append(sinks, memory.NewJSONSink(os.Stdout, nil))
	}

	auditService := service.NewAuditService(auditLog, logger,
		service.WithSinks(sinks...),
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(durations.FlushInterval),
		service.WithSendTimeout(durations.SendTimeout),
		service.WithWarningThreshold(cfg.Audit.WarningThreshold),
	)
	auditService.Start(bg)
	// Stop closes every sink, the archive included.
	defer auditService.Stop()

	if archive != nil {
		pruner := sqlite.NewPruner(archive, sqlite.RetentionConfig{
			MaxAge:     durations.ArchiveRetention,
			MaxEntries: cfg.Audit.ArchiveMaxEntries,
			Schedule:   cfg.Audit.ArchivePruneSchedule,
		}, logger)
		if err := pruner.Start(bg); err != nil {
			return fmt.Errorf("failed to start archive pruner: %w", err)
		}
		defer pruner.Stop()
	}

	// Metrics.
	registry := http.NewRegistry()
	metrics := http.NewMetrics(registry)
	http.RegisterAuditCollectors(registry, auditService)

	// Rules.
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create condition evaluator: %w", err)
	}
	ruleOpts := []service.RuleStoreOption{
		service.WithConditionCompiler(evaluator),
		service.WithRulePersister(persistence),
		service.WithLoadObserver(metrics),
	}
	if cfg.Rules.File != "" {
		ruleOpts = append(ruleOpts, service.WithRuleSource(rulefile.NewSource(cfg.Rules.File)))
	}
	ruleStore := service.NewRuleStore(logger, ruleOpts...)
	ruleStore.Start(bg)
	defer ruleStore.Stop()

	if err := loadInitialRules(ctx, cfg, ruleStore, appState, logger); err != nil {
		return err
	}

	// Decision path. Settings changed over the API live in state.json and
	// win over the config once the file exists.
	settings := settingsFromConfig(cfg)
	if stateExisted {
		settings = service.SettingsFromState(appState.Settings)
	}
	stats := service.NewStatsService()
	interception := service.NewInterceptionService(ruleStore,
		service.NewMatchEngine(logger),
		service.NewTransformEngine(logger),
		auditService,
		logger,
		service.WithTracer(tel.Tracer()),
		service.WithDecisionObserver(metrics),
		service.WithDecisionObserver(tel),
		service.WithDecisionObserver(stats),
		service.WithSettings(settings),
		service.WithSettingsPersister(persistence),
	)
	defer interception.Wait()

	simulation := service.NewSimulationService(interception, logger,
		service.WithDeliverer(newDeliverer(cfg, durations.DeliveryTimeout, logger)),
		service.WithDispatchTimeout(durations.DeliveryTimeout),
	)

	if cfg.Rules.Watch {
		watcher := rulefile.NewWatcher(cfg.Rules.File, durations.WatchDebounce, func(ctx context.Context) error {
			_, err := ruleStore.Reload(ctx)
			return err
		}, logger)
		if err := watcher.Start(bg); err != nil {
			return fmt.Errorf("failed to watch rule file: %w", err)
		}
		defer watcher.Stop()
	}

	// HTTP API.
	defaultMode, err := delivery.ParseMode(cfg.Delivery.DefaultMode)
	if err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	apiOpts := []admin.AdminAPIOption{
		admin.WithRuleStore(ruleStore),
		admin.WithInterceptionService(interception),
		admin.WithSimulationService(simulation),
		admin.WithAuditService(auditService),
		admin.WithAuditClearer(persistence),
		admin.WithStatsService(stats),
		admin.WithBuildInfo(&admin.BuildInfo{Version: Version, Commit: Commit, BuildDate: BuildDate}),
		admin.WithDefaultMode(defaultMode),
		admin.WithAllowRemote(cfg.Server.AllowRemoteAdmin),
		admin.WithRateLimit(cfg.Server.APIRateLimit),
		admin.WithAPILogger(logger),
		admin.WithStartTime(startTime),
	}
	var pinger http.Pinger
	if archive != nil {
		apiOpts = append(apiOpts, admin.WithAuditArchive(archive))
		pinger = archive
	}
	apiHandler := admin.NewAdminAPIHandler(apiOpts...)

	serverOpts := []http.Option{
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		http.WithLogger(logger),
		http.WithAPIHandler(apiHandler.Routes()),
		http.WithHealthChecker(http.NewHealthChecker(ruleStore, auditService, pinger, Version)),
		http.WithMetrics(metrics, registry),
		http.WithShutdownHook(apiHandler.CloseStreams),
	}
	if cfg.Server.TLSCert != "" {
		serverOpts = append(serverOpts, http.WithTLS(cfg.Server.TLSCert, cfg.Server.TLSKey))
	}
	server := http.NewServer(serverOpts...)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx) }()

	select {
	case <-server.Ready():
	case err := <-errCh:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	printBanner(os.Stderr, Version, server.Addr(), cfg.Server.TLSCert != "", cfg.DevMode, ruleStore.Snapshot().Len(), cfg.Rules.File)

	if err := <-errCh; err != nil {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// loadInitialRules publishes the first snapshot. A configured rule file
// wins; when it cannot be read the rules persisted by the previous run are
// used instead, and without those startup fails.
func loadInitialRules(ctx context.Context, cfg *config.Config, rules *service.RuleStore, appState *state.AppState, logger *slog.Logger) error {
	if cfg.Rules.File == "" {
		if report := rules.LoadFromState(appState); report != nil {
			logLoadReport(logger, "rules restored from state", report)
		} else {
			logger.Info("no rule file configured and no persisted rules; every message passes through")
		}
		return nil
	}

	report, err := rules.Reload(ctx)
	if err == nil {
		logLoadReport(logger, "rules loaded", report, "file", cfg.Rules.File)
		return nil
	}
	if fallback := rules.LoadFromState(appState); fallback != nil {
		logger.Warn("rule file unusable, using persisted rules", "file", cfg.Rules.File, "error", err)
		logLoadReport(logger, "rules restored from state", fallback)
		return nil
	}
	return fmt.Errorf("failed to load rules from %s: %w", cfg.Rules.File, err)
}

func logLoadReport(logger *slog.Logger, msg string, report *rule.LoadReport, args ...any) {
	args = append(args,
		"loaded", report.Loaded,
		"skipped", report.Skipped,
		"snapshot_version", report.Version,
	)
	logger.Info(msg, args...)
	for _, d := range report.Diagnostics {
		logger.Warn("rule skipped", "index", d.Index, "rule_id", d.RuleID, "reason", d.Message)
	}
	for _, w := range report.Warnings {
		logger.Warn("rule warning", "index", w.Index, "rule_id", w.RuleID, "reason", w.Message)
	}
}

// newDeliverer returns the webhook deliverer when an endpoint is
// configured and a logging deliverer otherwise.
func newDeliverer(cfg *config.Config, timeout time.Duration, logger *slog.Logger) delivery.Deliverer {
	if cfg.Delivery.WebhookURL == "" {
		return dispatch.NewLogDeliverer(logger)
	}
	opts := []dispatch.WebhookOption{dispatch.WithTimeout(timeout)}
	for k, v := range cfg.Delivery.Headers {
		opts = append(opts, dispatch.WithHeader(k, v))
	}
	return dispatch.NewWebhookDeliverer(cfg.Delivery.WebhookURL, opts...)
}

func telemetryWriter(output string) io.Writer {
	if output == "stdout" {
		return os.Stdout
	}
	return os.Stderr
}

// newLogger builds the process logger. format is "text" or "json".
func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner prints the startup summary to w.
func printBanner(w io.Writer, version, addr string, tlsEnabled, devMode bool, ruleCount int, rulesFile string) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	scheme := "http"
	if tlsEnabled {
		scheme = "https"
	}
	apiURL := fmt.Sprintf("%s://%s/api/v1", scheme, addr)

	modeStr := green + "production" + reset
	if devMode {
		modeStr = yellow + "development" + reset
	}
	source := rulesFile
	if source == "" {
		source = "state.json"
	}

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  %s%sIntentGate%s %s%s%s\n", bold, cyan, reset, dim, version, reset)
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  %-10s %s\n", "API:", apiURL)
	fmt.Fprintf(w, "  %-10s %s://%s/health\n", "Health:", scheme, addr)
	fmt.Fprintf(w, "  %-10s %s://%s/metrics\n", "Metrics:", scheme, addr)
	fmt.Fprintf(w, "  %-10s %d %s(from %s)%s\n", "Rules:", ruleCount, dim, source, reset)
	fmt.Fprintf(w, "  %-10s %s\n", "Mode:", modeStr)
	fmt.Fprintf(w, "\n")
}

// pidFilePath returns the location of the server PID file used by stop.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".intentgate", "server.pid")
	}
	return filepath.Join(os.TempDir(), "intentgate-server.pid")
}

// writePIDFile writes the current process PID to path, creating parent
// directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

// readPIDFile returns the PID stored at path, or 0 when it is missing or
// malformed.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	var pid int
	if _, err := fmt.Sscanf(strings.TrimSpace(string(data)), "%d", &pid); err != nil || pid <= 0 {
		return 0
	}
	return pid
}
