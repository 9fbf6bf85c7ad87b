// Package admin provides the JSON API for driving and managing the engine
// over HTTP.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/intentgate/intentgate/internal/domain/audit"
	"github.com/intentgate/intentgate/internal/domain/delivery"
	"github.com/intentgate/intentgate/internal/service"
)

// maxBodySize bounds request bodies, rule documents included.
const maxBodySize = 4 << 20

// AuditArchive provides long-term audit queries beyond the in-memory log.
type AuditArchive interface {
	Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
}

// AuditClearer removes persisted audit entries when the log is cleared.
type AuditClearer interface {
	ClearAudit() error
}

// AdminAPIHandler provides the JSON API endpoints.
type AdminAPIHandler struct {
	ruleStore    *service.RuleStore
	interception *service.InterceptionService
	simulation   *service.SimulationService
	auditService *service.AuditService
	stats        *service.StatsService
	archive      AuditArchive
	auditClearer AuditClearer
	buildInfo    *BuildInfo
	defaultMode  delivery.Mode
	allowRemote  bool
	rateLimit    int
	logger       *slog.Logger
	startTime    time.Time

	streamsDone  chan struct{}
	closeStreams sync.Once
}

// AdminAPIOption configures an AdminAPIHandler dependency.
type AdminAPIOption func(*AdminAPIHandler)

// WithRuleStore sets the rule store behind the rules endpoints.
func WithRuleStore(s *service.RuleStore) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.ruleStore = s }
}

// WithInterceptionService sets the decision path.
func WithInterceptionService(s *service.InterceptionService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.interception = s }
}

// WithSimulationService sets the simulation harness.
func WithSimulationService(s *service.SimulationService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.simulation = s }
}

// WithAuditService sets the audit service.
func WithAuditService(s *service.AuditService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.auditService = s }
}

// WithStatsService sets the decision counters behind /api/v1/stats.
func WithStatsService(s *service.StatsService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.stats = s }
}

// WithAuditArchive sets the archive consulted by ?archive=true queries.
func WithAuditArchive(a AuditArchive) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.archive = a }
}

// WithAuditClearer sets the store cleared alongside the in-memory log.
func WithAuditClearer(c AuditClearer) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.auditClearer = c }
}

// WithBuildInfo sets the build version information.
func WithBuildInfo(info *BuildInfo) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.buildInfo = info }
}

// WithDefaultMode sets the delivery mode used when a simulation names none.
func WithDefaultMode(m delivery.Mode) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.defaultMode = m }
}

// WithAllowRemote accepts management requests from non-loopback clients.
func WithAllowRemote(allow bool) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.allowRemote = allow }
}

// WithRateLimit sets the per-IP request budget per minute for remote
// clients. 0 disables limiting.
func WithRateLimit(perMinute int) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.rateLimit = perMinute }
}

// WithAPILogger sets the logger.
func WithAPILogger(l *slog.Logger) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.logger = l }
}

// WithStartTime sets the server start time for uptime calculation.
func WithStartTime(t time.Time) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.startTime = t }
}

// NewAdminAPIHandler creates a new AdminAPIHandler with the given options.
func NewAdminAPIHandler(opts ...AdminAPIOption) *AdminAPIHandler {
	h := &AdminAPIHandler{
		logger:      slog.Default(),
		startTime:   time.Now().UTC(),
		rateLimit:   600,
		defaultMode: delivery.ModeActivity,
		streamsDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns an http.Handler with all API routes registered.
// The decision endpoints are open to any client the listener accepts;
// management endpoints are loopback-only unless WithAllowRemote is set.
func (h *AdminAPIHandler) Routes() http.Handler {
	mux := http.NewServeMux()

	// Decision path.
	mux.HandleFunc("POST /api/v1/intercept", h.handleIntercept)
	mux.HandleFunc("POST /api/v1/simulate", h.handleSimulate)

	managed := http.NewServeMux()

	// Rules.
	managed.HandleFunc("GET /api/v1/rules", h.handleGetRules)
	managed.HandleFunc("PUT /api/v1/rules", h.handlePutRules)
	managed.HandleFunc("GET /api/v1/rules/export", h.handleExportRules)
	managed.HandleFunc("POST /api/v1/rules/reload", h.handleReloadRules)
	managed.HandleFunc("GET /api/v1/rules/events", h.handleRuleEvents)

	// Engine settings.
	managed.HandleFunc("GET /api/v1/settings", h.handleGetSettings)
	managed.HandleFunc("PUT /api/v1/settings", h.handleUpdateSettings)

	// Audit.
	managed.HandleFunc("GET /api/v1/audit", h.handleQueryAudit)
	managed.HandleFunc("GET /api/v1/audit/export", h.handleAuditExport)
	managed.HandleFunc("DELETE /api/v1/audit", h.handleClearAudit)

	managed.HandleFunc("GET /api/v1/system", h.handleSystemInfo)
	managed.HandleFunc("GET /api/v1/stats", h.handleGetStats)
	managed.HandleFunc("DELETE /api/v1/stats", h.handleResetStats)

	mux.Handle("/api/v1/", h.localOnly(managed))

	var handler http.Handler = mux
	if h.rateLimit > 0 {
		handler = apiRateLimitMiddleware(h.rateLimit, time.Minute, handler)
	}
	return securityHeaders(handler)
}

// --- JSON helper methods ---

// respondJSON writes a JSON response with the given status code and data.
func (h *AdminAPIHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with the given status code and message.
func (h *AdminAPIHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// readJSON decodes the request body into v, rejecting unknown fields.
// Numbers in untyped fields stay json.Number so LONG extras keep precision.
func (h *AdminAPIHandler) readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	return dec.Decode(v)
}
