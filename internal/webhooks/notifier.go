// Package webhooks posts signed integrity events to operator-configured
// HTTP endpoints. It runs next to the email alerts.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// DefaultRetryDelays is the wait before each retry after the first attempt.
var DefaultRetryDelays = []time.Duration{1 * time.Second, 5 * time.Second, 25 * time.Second}

// Notifier fans events out to a fixed set of endpoints.
type Notifier struct {
	urls       []string
	secret     []byte
	httpClient *http.Client
	delays     []time.Duration
	onMetrics  MetricsRecorder
	logger     *zap.Logger

	wg sync.WaitGroup
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithHTTPClient overrides the default 10s-timeout client.
func WithHTTPClient(hc *http.Client) Option {
	return func(n *Notifier) { n.httpClient = hc }
}

// WithRetryDelays overrides DefaultRetryDelays. An empty slice disables retries.
func WithRetryDelays(d []time.Duration) Option {
	return func(n *Notifier) { n.delays = d }
}

// NewNotifier creates a Notifier. An empty secret sends unsigned requests.
func NewNotifier(urls []string, secret string, logger *zap.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		urls:       append([]string(nil), urls...),
		secret:     []byte(secret),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		delays:     DefaultRetryDelays,
		logger:     logger,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// SetMetricsRecorder configures the metrics callback.
func (n *Notifier) SetMetricsRecorder(fn MetricsRecorder) {
	n.onMetrics = fn
}

// Dispatch posts the event to every endpoint in the background. Deliveries
// outlive ctx's cancellation but keep its values.
func (n *Notifier) Dispatch(ctx context.Context, eventType string, details json.RawMessage) {
	if len(n.urls) == 0 {
		return
	}
	body, err := json.Marshal(Event{Type: eventType, Timestamp: time.Now().UTC(), Details: details})
	if err != nil {
		n.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}

	ctx = context.WithoutCancel(ctx)
	for _, u := range n.urls {
		n.wg.Add(1)
		go func(u string) {
			defer n.wg.Done()
			n.deliver(ctx, u, eventType, body)
		}(u)
	}
}

// Wait blocks until in-flight deliveries finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// deliver sends body to url, retrying after each configured delay.
func (n *Notifier) deliver(ctx context.Context, url, eventType string, body []byte) Delivery {
	signature := Sign(body, n.secret)

	var d Delivery
	for attempt := 1; attempt <= len(n.delays)+1; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(n.delays[attempt-2]):
			case <-ctx.Done():
				return d
			}
		}

		d = n.doDelivery(ctx, url, body, signature)
		d.EventType = eventType
		d.Attempt = attempt

		if n.onMetrics != nil {
			n.onMetrics(d.Success)
		}
		if d.Success {
			n.logger.Debug("webhook delivered", zap.String("url", url), zap.Int("attempt", attempt))
			return d
		}

		n.logger.Warn("webhook: delivery failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.String("error", d.Error),
		)
	}
	return d
}

// doDelivery performs a single HTTP POST delivery.
func (n *Notifier) doDelivery(ctx context.Context, url string, body []byte, signature string) Delivery {
	d := Delivery{URL: url}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		d.Error = err.Error()
		return d
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		d.Error = err.Error()
		return d
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	d.StatusCode = resp.StatusCode
	d.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !d.Success {
		d.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return d
}

// Sign computes the signature header value for body, or "" without a secret.
func Sign(body, secret []byte) string {
	if len(secret) == 0 {
		return ""
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
