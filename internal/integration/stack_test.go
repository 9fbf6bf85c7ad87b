// Package integration boots the engine the way the CLI does and drives it
// over HTTP.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/intentgate/intentgate/internal/adapter/inbound/admin"
	inhttp "github.com/intentgate/intentgate/internal/adapter/inbound/http"
	"github.com/intentgate/intentgate/internal/adapter/outbound/cel"
	"github.com/intentgate/intentgate/internal/adapter/outbound/dispatch"
	"github.com/intentgate/intentgate/internal/adapter/outbound/memory"
	"github.com/intentgate/intentgate/internal/adapter/outbound/rulefile"
	"github.com/intentgate/intentgate/internal/adapter/outbound/sqlite"
	"github.com/intentgate/intentgate/internal/adapter/outbound/state"
	"github.com/intentgate/intentgate/internal/domain/audit"
	"github.com/intentgate/intentgate/internal/service"
)

// testLogger returns a logger that only reports errors.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stack is a fully wired engine behind an httptest server.
type stack struct {
	server       *httptest.Server
	rules        *service.RuleStore
	interception *service.InterceptionService
	audit        *service.AuditService
	archive      *sqlite.Archive
	closed       bool
}

type stackConfig struct {
	statePath   string
	rulesPath   string
	archivePath string
	webhookURL  string
}

func bootStack(t testing.TB, cfg stackConfig) *stack {
	t.Helper()
	logger := testLogger()

	store := state.NewFileStateStore(cfg.statePath, logger)
	existed := store.Exists()
	appState, err := store.Load()
	if err != nil {
		t.Fatalf("load state: %v", err)
	}

	auditLog := memory.NewAuditLog(500)
	auditLog.Restore(appState.AuditEntries)
	persistence := service.NewStatePersistence(store, auditLog, 500, logger)
	sinks := []audit.Sink{persistence}

	var archive *sqlite.Archive
	if cfg.archivePath != "" {
		archiveCfg := sqlite.DefaultConfig()
		archiveCfg.Path = cfg.archivePath
		archive, err = sqlite.Open(archiveCfg, logger)
		if err != nil {
			t.Fatalf("open archive: %v", err)
		}
		sinks = append(sinks, archive)
	}

	auditService := service.NewAuditService(auditLog, logger,
		service.WithSinks(sinks...),
		service.WithFlushInterval(10*time.Millisecond),
		service.WithBatchSize(10),
	)
	auditService.Start(context.Background())

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		t.Fatalf("cel: %v", err)
	}
	ruleOpts := []service.RuleStoreOption{
		service.WithConditionCompiler(evaluator),
		service.WithRulePersister(persistence),
	}
	if cfg.rulesPath != "" {
		ruleOpts = append(ruleOpts, service.WithRuleSource(rulefile.NewSource(cfg.rulesPath)))
	}
	rules := service.NewRuleStore(logger, ruleOpts...)
	rules.Start(context.Background())
	if cfg.rulesPath != "" {
		if _, err := rules.Reload(context.Background()); err != nil {
			t.Fatalf("initial reload: %v", err)
		}
	} else {
		rules.LoadFromState(appState)
	}

	settings := service.DefaultEngineSettings()
	if existed {
		settings = service.SettingsFromState(appState.Settings)
	}
	stats := service.NewStatsService()
	interception := service.NewInterceptionService(rules,
		service.NewMatchEngine(logger),
		service.NewTransformEngine(logger),
		auditService,
		logger,
		service.WithSettings(settings),
		service.WithSettingsPersister(persistence),
		service.WithDecisionObserver(stats),
	)

	simOpts := []service.SimulationOption{service.WithDispatchTimeout(2 * time.Second)}
	if cfg.webhookURL != "" {
		simOpts = append(simOpts, service.WithDeliverer(dispatch.NewWebhookDeliverer(cfg.webhookURL)))
	}
	simulation := service.NewSimulationService(interception, logger, simOpts...)

	apiOpts := []admin.AdminAPIOption{
		admin.WithRuleStore(rules),
		admin.WithInterceptionService(interception),
		admin.WithSimulationService(simulation),
		admin.WithAuditService(auditService),
		admin.WithAuditClearer(persistence),
		admin.WithStatsService(stats),
		admin.WithAPILogger(logger),
	}
	var pinger inhttp.Pinger
	if archive != nil {
		apiOpts = append(apiOpts, admin.WithAuditArchive(archive))
		pinger = archive
	}

	srv := inhttp.NewServer(
		inhttp.WithLogger(logger),
		inhttp.WithAPIHandler(admin.NewAdminAPIHandler(apiOpts...).Routes()),
		inhttp.WithHealthChecker(inhttp.NewHealthChecker(rules, auditService, pinger, "test")),
	)

	s := &stack{
		server:       httptest.NewServer(srv.Handler()),
		rules:        rules,
		interception: interception,
		audit:        auditService,
		archive:      archive,
	}
	t.Cleanup(s.shutdown)
	return s
}

// shutdown releases components in the order the CLI does.
func (s *stack) shutdown() {
	if s.closed {
		return
	}
	s.closed = true
	s.server.Close()
	s.rules.Stop()
	s.interception.Wait()
	s.audit.Stop()
}

func (s *stack) do(t testing.TB, method, path, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.server.URL+path, bytes.NewBufferString(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := s.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, data
}

func decode[T any](t testing.TB, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func writeRules(t testing.TB, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func tempPaths(t testing.TB) (dir, statePath, rulesPath string) {
	dir = t.TempDir()
	return dir, filepath.Join(dir, "state.json"), filepath.Join(dir, "rules.yaml")
}
