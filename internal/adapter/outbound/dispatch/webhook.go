// Package dispatch provides delivery.Deliverer implementations used by the
// simulation harness when a test asks for real dispatch.
package dispatch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/intentgate/intentgate/internal/domain/delivery"
)

// maxErrorBodySize bounds how much of a failed response body is quoted in
// the returned error.
const maxErrorBodySize = 4 * 1024

// ErrNoEndpoint is returned when a webhook deliverer has no URL.
var ErrNoEndpoint = errors.New("webhook endpoint not configured")

// WebhookDeliverer POSTs each dispatch as JSON to an HTTP endpoint. Any
// 2xx response counts as delivered.
type WebhookDeliverer struct {
	endpoint   string
	httpClient *http.Client
	headers    map[string]string
}

// WebhookOption configures a WebhookDeliverer.
type WebhookOption func(*WebhookDeliverer)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(w *WebhookDeliverer) {
		w.httpClient = client
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) WebhookOption {
	return func(w *WebhookDeliverer) {
		if w.httpClient != nil && d > 0 {
			w.httpClient.Timeout = d
		}
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) WebhookOption {
	return func(w *WebhookDeliverer) {
		w.headers[key] = value
	}
}

// NewWebhookDeliverer creates a deliverer for endpoint.
func NewWebhookDeliverer(endpoint string, opts ...WebhookOption) *WebhookDeliverer {
	w := &WebhookDeliverer{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		headers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Deliver sends d. The request carries the dispatch ID and mode as
// headers so receivers can route without decoding the body.
func (w *WebhookDeliverer) Deliver(ctx context.Context, d delivery.Dispatch) error {
	if w.endpoint == "" {
		return ErrNoEndpoint
	}

	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode dispatch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Dispatch-Id", d.ID)
	req.Header.Set("X-Dispatch-Mode", string(d.Mode))
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post dispatch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Endpoint returns the configured URL.
func (w *WebhookDeliverer) Endpoint() string {
	return w.endpoint
}

var _ delivery.Deliverer = (*WebhookDeliverer)(nil)
