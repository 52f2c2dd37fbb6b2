package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/openclaw/flux/pkg/models"
)

const (
	deliveryTimeout = 10 * time.Second
	responseReadCap = 4096
	baseBackoff     = time.Second
)

// Dispatcher fires events to every active subscriber in a background
// goroutine per webhook, signing each payload with the webhook's own secret.
type Dispatcher struct {
	store  *Store
	client *http.Client
	logger *slog.Logger
}

// NewDispatcher builds a Dispatcher persisting delivery attempts to store.
func NewDispatcher(store *Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:  store,
		client: &http.Client{Timeout: deliveryTimeout},
		logger: logger.With("component", "webhook.dispatcher"),
	}
}

// Dispatch fires event to every active webhook subscribed to eventType.
// Delivery is asynchronous: Dispatch returns once the lookup completes and
// a goroutine per webhook is started.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, payload map[string]any) {
	hooks, err := d.store.ActiveForEvent(ctx, eventType)
	if err != nil {
		d.logger.Warn("failed to list webhooks for event", "event", eventType, "error", err)
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Warn("failed to marshal webhook payload", "event", eventType, "error", err)
		return
	}
	for _, hook := range hooks {
		go d.deliver(context.Background(), hook, eventType, body)
	}
}

// deliver attempts delivery up to the webhook's max_retries times,
// retrying unconditionally on any non-2xx response or send error with
// exponential backoff (base_backoff * 2^(attempt-1), spec §4.12 step 5) —
// unlike internal/resilience's LLM-call retries, no status code or network
// kind gates a retry here.
func (d *Dispatcher) deliver(ctx context.Context, hook models.Webhook, eventType string, body []byte) {
	maxRetries := hook.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	signature := signPayload(body, hook.Secret)

	for attempt := 1; attempt <= maxRetries; attempt++ {
		status, respBody, sendErr := d.send(ctx, hook.URL, eventType, signature, body)
		_ = d.store.RecordDelivery(ctx, hook.ID, eventType, string(body), status, respBody, attempt)

		if sendErr == nil && status >= 200 && status < 300 {
			if resetErr := d.store.ResetFailure(ctx, hook.ID); resetErr != nil {
				d.logger.Warn("failed to reset webhook failure count", "webhook", hook.ID, "error", resetErr)
			}
			return
		}

		if attempt < maxRetries {
			d.logger.Warn("webhook delivery failed, retrying", "webhook", hook.ID, "event", eventType, "status", status, "attempt", attempt, "max_retries", maxRetries, "error", sendErr)
			delay := baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}

	if incErr := d.store.IncrementFailure(ctx, hook.ID); incErr != nil {
		d.logger.Warn("failed to record webhook failure", "webhook", hook.ID, "error", incErr)
	}
	d.logger.Error("webhook delivery failed after all retries", "webhook", hook.ID, "event", eventType, "attempts", maxRetries)
}

func (d *Dispatcher) send(ctx context.Context, url, eventType, signature string, body []byte) (status int, respBody string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Flux-Signature", signature)
	req.Header.Set("X-Flux-Event", eventType)
	req.Header.Set("User-Agent", "flux-webhook/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, responseReadCap))
	return resp.StatusCode, string(data), nil
}

func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
