package admin

import (
	"net"
	"net/http"
	"net/netip"
)

// clientHost returns the host part of the request's remote address.
func clientHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// isLocalhost reports whether the request arrived over loopback.
func isLocalhost(r *http.Request) bool {
	host := clientHost(r)
	if host == "localhost" {
		return true
	}
	addr, err := netip.ParseAddr(host)
	return err == nil && addr.Unmap().IsLoopback()
}

// localOnly guards the management routes: remote clients are refused
// unless remote administration is enabled.
func (h *AdminAPIHandler) localOnly(next http.Handler) http.Handler {
	if h.allowRemote {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isLocalhost(r) {
			h.respondError(w, http.StatusForbidden, "management API requires localhost access")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// apiHeaders are set on every API response: decisions and audit data are
// never cached, sniffed or framed.
var apiHeaders = [][2]string{
	{"Cache-Control", "no-store"},
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		for _, kv := range apiHeaders {
			hdr.Set(kv[0], kv[1])
		}
		next.ServeHTTP(w, r)
	})
}
