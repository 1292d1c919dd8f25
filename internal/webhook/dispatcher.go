// Package webhook delivers signed event notifications to owner-configured
// endpoints (spec §4.4), grounded on the teacher's internal/dsp/postback.go
// outbound-HTTP idiom (constructor-injected *http.Client with a fixed
// timeout, best-effort fire-and-forget goroutines, warn-level logging on
// failure) generalized from "send postback to the one configured MMP
// source" into "deliver to every webhook subscribed to this event, retrying
// on failure."
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/linkforty/linkforty-core/internal/metrics"
	"github.com/linkforty/linkforty-core/internal/models"
	"github.com/linkforty/linkforty-core/internal/store"
	"go.uber.org/zap"
)

const (
	headerSignature = "X-LinkForty-Signature"
	headerEvent     = "X-LinkForty-Event"
	headerEventID   = "X-LinkForty-Event-ID"
	userAgent       = "LinkForty-Webhook/1.0"

	maxResponseBodyBytes = 1000
)

// Dispatcher delivers webhook events with retry and an append-only delivery
// log (spec §4.4).
type Dispatcher struct {
	webhooks   store.WebhookStore
	deliveries store.WebhookDeliveryStore
	logger     *zap.Logger
	metrics    *metrics.Metrics
	httpClient *http.Client
	maxBackoff time.Duration
}

func NewDispatcher(webhooks store.WebhookStore, deliveries store.WebhookDeliveryStore, logger *zap.Logger, m *metrics.Metrics, maxBackoff time.Duration) *Dispatcher {
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	return &Dispatcher{
		webhooks:   webhooks,
		deliveries: deliveries,
		logger:     logger,
		metrics:    m,
		httpClient: &http.Client{},
		maxBackoff: maxBackoff,
	}
}

// Enqueue looks up every webhook owned by ownerID subscribed to event and
// delivers the payload to each asynchronously. Store and delivery failures
// are logged, never surfaced to the caller (spec §4.2/§4.3: webhook
// failures must never fail the triggering operation).
func (d *Dispatcher) Enqueue(ownerID, event string, payload interface{}) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		hooks, err := d.webhooks.ListSubscribed(ctx, ownerID, event)
		if err != nil {
			d.logger.Warn("failed to list subscribed webhooks",
				zap.String("owner_id", ownerID), zap.String("event", event), zap.Error(err))
			return
		}

		eventID := uuid.New().String()
		body, err := marshalEnvelope(event, eventID, payload)
		if err != nil {
			d.logger.Error("failed to marshal webhook payload", zap.String("event", event), zap.Error(err))
			return
		}

		for _, hook := range hooks {
			go d.deliverWithRetry(hook, event, eventID, body)
		}
	}()
}

// envelope is the {event, event_id, timestamp, data} wrapper spec §4.4/§6
// mandate for every webhook body; it is serialized once per event and
// reused, byte-for-byte, across every subscribed hook and retry attempt so
// the same signature verifies every delivery of the same event.
type envelope struct {
	Event     string      `json:"event"`
	EventID   string      `json:"event_id"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

func marshalEnvelope(event, eventID string, payload interface{}) ([]byte, error) {
	return json.Marshal(envelope{
		Event:     event,
		EventID:   eventID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      payload,
	})
}

// deliverWithRetry attempts delivery up to hook.MaxAttempts times, backing
// off min(1000*2^(attempt-1), 30000) ms between attempts (spec §4.4), and
// appends one delivery record per attempt.
func (d *Dispatcher) deliverWithRetry(hook *models.Webhook, event, eventID string, body []byte) {
	attempts := hook.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		record := d.attempt(hook, event, eventID, body, attempt)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.deliveries.Insert(ctx, record); err != nil {
			d.logger.Warn("failed to record webhook delivery attempt",
				zap.String("webhook_id", hook.ID), zap.Error(err))
		}
		cancel()

		if d.metrics != nil {
			d.metrics.RecordWebhookDelivery(event, record.Success)
		}

		if record.Success {
			return
		}
		if attempt == attempts {
			d.logger.Warn("webhook delivery exhausted all attempts",
				zap.String("webhook_id", hook.ID), zap.String("event", event), zap.Int("attempts", attempts))
			return
		}

		time.Sleep(d.backoff(attempt))
	}
}

// backoff returns min(1000*2^(attempt-1), maxBackoff) as a duration.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	ms := 1000 * (1 << uint(attempt-1))
	delay := time.Duration(ms) * time.Millisecond
	if delay > d.maxBackoff {
		return d.maxBackoff
	}
	return delay
}

// attempt performs one signed HTTP POST and returns its delivery record. It
// never returns an error: every failure mode (network, timeout, non-2xx) is
// captured in the record itself.
func (d *Dispatcher) attempt(hook *models.Webhook, event, eventID string, body []byte, attemptNum int) *models.WebhookDelivery {
	record := &models.WebhookDelivery{
		ID:          uuid.New().String(),
		WebhookID:   hook.ID,
		EventID:     eventID,
		EventType:   event,
		Attempt:     attemptNum,
		AttemptedAt: time.Now(),
	}

	timeout := time.Duration(hook.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		record.Error = err.Error()
		return record
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range hook.Headers {
		req.Header.Set(k, v)
	}
	// Core headers are set last so extra headers can never override them.
	req.Header.Set(headerEvent, event)
	req.Header.Set(headerEventID, eventID)
	req.Header.Set(headerSignature, "sha256="+sign(hook.Secret, body))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			record.Error = fmt.Sprintf("Timeout after %dms", hook.TimeoutMS)
		} else {
			record.Error = err.Error()
		}
		return record
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	record.ResponseStatus = resp.StatusCode
	record.ResponseBody = string(respBody)
	record.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	return record
}

// sign computes the hex-encoded HMAC-SHA256 of body keyed by secret.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Test sends a single synchronous attempt with no retry, used by the
// owner-facing "send test webhook" action; it does not write to the
// delivery log.
func (d *Dispatcher) Test(hook *models.Webhook, event string, payload interface{}) *models.WebhookDelivery {
	eventID := uuid.New().String()
	body, err := marshalEnvelope(event, eventID, payload)
	if err != nil {
		return &models.WebhookDelivery{Error: err.Error(), AttemptedAt: time.Now()}
	}
	return d.attempt(hook, event, eventID, body, 1)
}

// NewSecret generates a random hex-encoded webhook signing secret.
func NewSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the OS entropy source is broken; a
		// uuid fallback is still unpredictable enough for this to degrade
		// safely rather than panic.
		return uuid.New().String() + uuid.New().String()
	}
	return hex.EncodeToString(buf)
}
