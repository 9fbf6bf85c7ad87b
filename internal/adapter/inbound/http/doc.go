// Package http serves the engine over HTTP.
//
// # Usage
//
//	srv := http.NewServer(
//	    http.WithAddr("127.0.0.1:8080"),
//	    http.WithTLS("cert.pem", "key.pem"),
//	    http.WithAPIHandler(adminHandler.Routes()),
//	    http.WithHealthChecker(checker),
//	    http.WithMetrics(metrics, registry),
//	    http.WithLogger(logger),
//	)
//	err := srv.Start(ctx)
//
// # Endpoints
//
//	/api/     - JSON API (intercept, simulate, rules, settings, audit)
//	/health   - component health, 503 when unhealthy
//	/metrics  - Prometheus exposition
//
// # Middleware Chain
//
// API requests pass through, outermost first:
//
//  1. RequestIDMiddleware - reads or generates X-Request-ID and stores an
//     enriched logger in the request context
//  2. DNSRebindingProtection - rejects browser requests from origins
//     outside the allowlist
//  3. AccessLogMiddleware - logs method, route, status and duration
//  4. MetricsMiddleware - records request count and duration by route
//
// TLS 1.2 is the minimum version when WithTLS is set.
package http
