package http

import (
	"net/http"
	"time"
)

// unmeasuredPaths are served outside the API metrics so scrapes and probes
// do not dominate the request series.
var unmeasuredPaths = map[string]bool{
	"/metrics": true,
	"/health":  true,
}

// MetricsMiddleware records request count and latency per route pattern.
// It must wrap the API mux directly: the pattern is read from the request
// after the mux has routed it.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if unmeasuredPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(r.Method, route, statusClass(rec.status)).Inc()
		})
	}
}

// statusClass buckets a status code into ok, client_error or error.
func statusClass(code int) string {
	switch {
	case code >= http.StatusInternalServerError:
		return "error"
	case code >= http.StatusBadRequest:
		return "client_error"
	default:
		return "ok"
	}
}
