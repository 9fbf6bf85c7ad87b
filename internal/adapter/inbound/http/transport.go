package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ErrServerStarted is returned by Start on a server that is already serving.
var ErrServerStarted = errors.New("server already started")

const shutdownTimeout = 10 * time.Second

// Server is the inbound HTTP adapter. It mounts the JSON API, the health
// endpoint and the Prometheus endpoint on one listener.
type Server struct {
	addr           string
	allowedOrigins []string
	certFile       string
	keyFile        string
	logger         *slog.Logger
	apiHandler     http.Handler
	healthChecker  *HealthChecker
	metrics        *Metrics
	gatherer       prometheus.Gatherer
	onShutdown     []func()

	mu        sync.Mutex
	server    *http.Server
	boundAddr string
	ready     chan struct{}
}

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
// If not set, the server runs without TLS (plain HTTP).
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// WithAllowedOrigins sets the allowed origins for DNS rebinding protection.
// If empty, all requests with an Origin header are blocked.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithLogger sets the logger for the HTTP server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithShutdownHook runs fn when shutdown begins, before in-flight requests
// are awaited. Use it to end long-lived streams.
func WithShutdownHook(fn func()) Option {
	return func(s *Server) {
		s.onShutdown = append(s.onShutdown, fn)
	}
}

// WithAPIHandler mounts h under /api/.
func WithAPIHandler(h http.Handler) Option {
	return func(s *Server) {
		s.apiHandler = h
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *Server) {
		s.healthChecker = hc
	}
}

// WithMetrics sets the metrics recorded by the API middleware and the
// gatherer exposed on /metrics. Without it the server keeps a private
// registry.
func WithMetrics(m *Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// NewRegistry returns a registry with the Go runtime and process
// collectors registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewServer creates an HTTP server.
func NewServer(opts ...Option) *Server {
	s := &Server{
		addr:           "127.0.0.1:8080",
		allowedOrigins: []string{},
		logger:         slog.Default(),
		ready:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		reg := NewRegistry()
		s.metrics = NewMetrics(reg)
		s.gatherer = reg
	}
	return s
}

// Handler builds the routing tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.healthChecker != nil {
		mux.Handle("/health", s.healthChecker.Handler())
	} else {
		mux.Handle("/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"healthy"}` + "\n"))
		}))
	}
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	if s.apiHandler != nil {
		// MetricsMiddleware must sit directly on the API handler so it sees
		// the route pattern the API mux records on the request.
		api := MetricsMiddleware(s.metrics)(s.apiHandler)
		api = AccessLogMiddleware(api)
		api = DNSRebindingProtection(s.allowedOrigins)(api)
		api = RequestIDMiddleware(s.logger)(api)
		mux.Handle("/api/", api)
	}
	return mux
}

// Start listens and serves until ctx is cancelled or the server fails.
// Cancellation triggers a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return ErrServerStarted
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	for _, fn := range s.onShutdown {
		srv.RegisterOnShutdown(fn)
	}
	tlsEnabled := s.certFile != "" && s.keyFile != ""
	if tlsEnabled {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	s.server = srv
	s.boundAddr = ln.Addr().String()
	close(s.ready)
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsEnabled {
			s.logger.Info("starting HTTPS server", "addr", s.boundAddr)
			err = srv.ServeTLS(ln, s.certFile, s.keyFile)
		} else {
			s.logger.Info("starting HTTP server", "addr", s.boundAddr)
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

func (s *Server) shutdown() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	return s.shutdown()
}
