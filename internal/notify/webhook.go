package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-groupbuy/internal/events"
	"github.com/noah-isme/backend-groupbuy/internal/obs"
	"github.com/noah-isme/backend-groupbuy/internal/resilience"
)

const userAgent = "groupbuy-webhooks/1.0"

// Webhook posts domain events to a single HTTP endpoint, signed with a shared
// secret. It implements events.Notifier.
type Webhook struct {
	URL    string
	Secret string
	// Topics limits delivery to the listed topics. Empty delivers every topic.
	Topics    []string
	Client    *http.Client
	Caller    resilience.Caller
	Replay    ReplayProtector
	ReplayTTL time.Duration
	Now       func() time.Time
}

// StatusError reports a non-2xx response from the endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook: endpoint responded %d", e.Code)
}

// Notify implements events.Notifier.
func (w *Webhook) Notify(ctx context.Context, ev events.Event) error {
	if w == nil || w.URL == "" || !subscribed(w.Topics, ev.Topic) {
		return nil
	}
	if err := ValidateURL(w.URL); err != nil {
		return err
	}
	if w.Replay != nil && w.ReplayTTL > 0 {
		ok, err := w.Replay.Acquire(ctx, replayKey(ev.ID), w.ReplayTTL)
		if err != nil {
			return fmt.Errorf("webhook: replay guard: %w", err)
		}
		if !ok {
			countDelivery("suppressed")
			return nil
		}
	}

	body, err := json.Marshal(struct {
		EventID     string          `json:"eventId"`
		Topic       string          `json:"topic"`
		AggregateID string          `json:"aggregateId"`
		Data        json.RawMessage `json:"data"`
		OccurredAt  time.Time       `json:"occurredAt"`
	}{
		EventID:     ev.ID,
		Topic:       ev.Topic,
		AggregateID: ev.AggregateID,
		Data:        ev.Payload,
		OccurredAt:  ev.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("webhook: encode: %w", err)
	}

	caller := w.Caller
	if caller.Retryable == nil {
		caller.Retryable = retryable
	}
	err = caller.Do(ctx, func(ctx context.Context) error {
		return w.deliver(ctx, ev, body)
	})
	if err != nil {
		countDelivery("failed")
		if w.Replay != nil && w.ReplayTTL > 0 {
			_ = w.Replay.Release(context.WithoutCancel(ctx), replayKey(ev.ID))
		}
		return err
	}
	countDelivery("delivered")
	return nil
}

func (w *Webhook) deliver(ctx context.Context, ev events.Event, body []byte) error {
	ctx, span := otel.Tracer("notify.Webhook").Start(ctx, "Webhook.deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.event_id", ev.ID),
		attribute.String("webhook.topic", ev.Topic),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return err
	}
	ts := w.now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Event-ID", ev.ID)
	req.Header.Set("X-Event-Topic", ev.Topic)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Signature", ComputeSignature(w.Secret, ts, ev.ID, body))

	resp, err := w.client().Do(req)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr := &StatusError{Code: resp.StatusCode, Body: string(snippet)}
	span.RecordError(statusErr)
	return statusErr
}

func subscribed(topics []string, topic string) bool {
	if len(topics) == 0 {
		return true
	}
	for _, t := range topics {
		if t == topic {
			return true
		}
	}
	return false
}

// defaultClient serves webhooks built without a Client. It is shared and never
// reassigned, so concurrent deliveries do not race on it.
var defaultClient = HTTPClient(5 * time.Second)

func (w *Webhook) client() *http.Client {
	if w.Client != nil {
		return w.Client
	}
	return defaultClient
}

func (w *Webhook) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// retryable retries transport failures, throttling and server errors.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= 500
	}
	return true
}

func countDelivery(result string) {
	if obs.WebhookDeliveriesTotal != nil {
		obs.WebhookDeliveriesTotal.WithLabelValues(result).Inc()
	}
}

// ValidateURL accepts https endpoints, and plain http only for localhost.
func ValidateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook url must be http or https")
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http webhook only allowed for localhost")
		}
	}
	return nil
}

// ComputeSignature calculates the webhook signature for the provided payload. The
// format is HMAC-SHA256 over "<ts>.<eventID>.<body>" using the endpoint secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HTTPClient returns an HTTP client configured for webhook delivery.
func HTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
