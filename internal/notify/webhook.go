package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/woofwatch/engine/internal/config"
)

const iftttURLTemplate = "https://maker.ifttt.com/trigger/%s/with/key/%s"

// WebhookStats reports delivery counts and which sinks are configured.
type WebhookStats struct {
	Sent                 int  `json:"sent"`
	Errors               int  `json:"errors"`
	IFTTTConfigured      bool `json:"ifttt_configured"`
	CustomURLConfigured  bool `json:"custom_url_configured"`
}

// Webhook delivers notification events to an IFTTT Maker Webhooks endpoint
// and/or a custom URL, with retry-with-backoff on 5xx/network errors. It
// does not check targets itself; unsafe custom URLs are rejected when the
// config is validated.
type Webhook struct {
	cfg    config.WebhookConfig
	client *http.Client
	logger *slog.Logger

	mu     sync.Mutex
	sent   int
	errors int
}

// NewWebhook builds a webhook delivery client. Redirects are never
// followed, matching the SSRF defence required of outbound delivery.
func NewWebhook(cfg config.WebhookConfig, logger *slog.Logger) *Webhook {
	return &Webhook{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

func (w *Webhook) iftttConfigured() bool {
	return strings.TrimSpace(w.cfg.IFTTTEvent) != "" && strings.TrimSpace(w.cfg.IFTTTKey) != ""
}

func (w *Webhook) customConfigured() bool {
	return strings.TrimSpace(w.cfg.CustomURL) != ""
}

// Notify delivers event to every configured sink, returning true if at
// least one delivery succeeded.
func (w *Webhook) Notify(ctx context.Context, event Event) bool {
	delivered := false

	if w.iftttConfigured() {
		if w.sendIFTTT(ctx, event) {
			delivered = true
		}
	}
	if w.customConfigured() {
		if w.sendCustom(ctx, event) {
			delivered = true
		}
	}
	return delivered
}

func (w *Webhook) sendIFTTT(ctx context.Context, event Event) bool {
	target := fmt.Sprintf(iftttURLTemplate, url.PathEscape(w.cfg.IFTTTEvent), w.cfg.IFTTTKey)
	body, err := json.Marshal(event.ToIFTTTValues())
	if err != nil {
		w.logger.Error("webhook_encode_failed", slog.String("sink", "ifttt"), slog.String("error", err.Error()))
		return false
	}
	return w.sendWithRetry(ctx, target, body, nil, "ifttt")
}

func (w *Webhook) sendCustom(ctx context.Context, event Event) bool {
	body, err := json.Marshal(event.ToWebhookPayload())
	if err != nil {
		w.logger.Error("webhook_encode_failed", slog.String("sink", "custom"), slog.String("error", err.Error()))
		return false
	}

	headers := make(map[string]string, len(w.cfg.CustomHeaders)+1)
	for k, v := range w.cfg.CustomHeaders {
		headers[k] = v
	}
	if strings.TrimSpace(w.cfg.CustomAuthToken) != "" {
		headers["Authorization"] = "Bearer " + w.cfg.CustomAuthToken
	}
	return w.sendWithRetry(ctx, w.cfg.CustomURL, body, headers, "custom")
}

// sendWithRetry issues the POST, retrying on 5xx and network errors up to
// retry_count extra attempts with exponential backoff plus jitter. 4xx
// responses are never retried.
func (w *Webhook) sendWithRetry(ctx context.Context, target string, body []byte, headers map[string]string, name string) bool {
	attempts := w.cfg.RetryCount + 1
	var lastErr string

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoffDelay(attempt - 1))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			lastErr = err.Error()
			break
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err.Error()
			continue
		}
		resp.Body.Close()

		if resp.StatusCode < 400 {
			w.mu.Lock()
			w.sent++
			w.mu.Unlock()
			return true
		}
		if resp.StatusCode < 500 {
			w.mu.Lock()
			w.errors++
			w.mu.Unlock()
			return false
		}
		lastErr = fmt.Sprintf("status %d", resp.StatusCode)
	}

	w.mu.Lock()
	w.errors++
	w.mu.Unlock()
	w.logger.Error("webhook_failed", slog.String("sink", name), slog.String("error", lastErr))
	return false
}

// backoffDelay computes the retry delay before the (attempt+1)th attempt,
// attempt being zero-indexed from the first retry.
func backoffDelay(attempt int) time.Duration {
	base := float64(int64(1) << uint(attempt))
	if base > 10 {
		base = 10
	}
	jitter := rand.Float64() * base * 0.3
	return time.Duration((base + jitter) * float64(time.Second))
}

// Stats returns a snapshot of delivery counts and sink configuration.
func (w *Webhook) Stats() WebhookStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return WebhookStats{
		Sent:                w.sent,
		Errors:              w.errors,
		IFTTTConfigured:     w.iftttConfigured(),
		CustomURLConfigured: w.customConfigured(),
	}
}
