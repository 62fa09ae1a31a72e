// Package notify delivers terminal job events to an external endpoint.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	standardwebhooks "github.com/standard-webhooks/standard-webhooks/libraries/go"

	"github.com/callinsights/hub/internal/models"
	"github.com/callinsights/hub/internal/observability"
	"github.com/callinsights/hub/internal/service"
)

const (
	defaultTimeout  = 15 * time.Second
	defaultRetryMax = 3
)

var errEndpointGone = errors.New("webhook returned 410 Gone (endpoint disabled)")

// Payload is the signed webhook body.
type Payload struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
	Data      models.Job `json:"data"`
}

// WebhookListener posts terminal job events to one endpoint, signed per Standard Webhooks.
// An endpoint answering 410 Gone is disabled for the rest of the process lifetime.
type WebhookListener struct {
	url        string
	signer     *standardwebhooks.Webhook
	httpClient *retryablehttp.Client
	metrics    observability.WebhookMetrics
	disabled   atomic.Bool
	logger     *slog.Logger
}

// WebhookListenerParams configures a WebhookListener. Metrics and Logger may be nil.
type WebhookListenerParams struct {
	URL string
	// Secret is a Standard Webhooks signing key ("whsec_..." base64).
	Secret   string
	RetryMax int
	Timeout  time.Duration
	Metrics  observability.WebhookMetrics
	Logger   *slog.Logger
}

// NewWebhookListener validates the secret and builds the listener.
func NewWebhookListener(p WebhookListenerParams) (*WebhookListener, error) {
	signer, err := standardwebhooks.NewWebhook(p.Secret)
	if err != nil {
		return nil, fmt.Errorf("create webhook signer: %w", err)
	}

	if p.RetryMax == 0 {
		p.RetryMax = defaultRetryMax
	}

	if p.Timeout == 0 {
		p.Timeout = defaultTimeout
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = p.RetryMax
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.HTTPClient.Timeout = p.Timeout
	retryClient.HTTPClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	retryClient.Logger = nil // logged at delivery level

	return &WebhookListener{
		url:        p.URL,
		signer:     signer,
		httpClient: retryClient,
		metrics:    p.Metrics,
		logger:     logger,
	}, nil
}

// OnJobEvent implements service.JobEventListener. Delivery failures are logged, never returned.
func (l *WebhookListener) OnJobEvent(ctx context.Context, event service.JobEvent) {
	if l.disabled.Load() {
		return
	}

	started := time.Now()
	err := l.send(ctx, event)

	status := "success"
	if err != nil {
		status = "failed"
		if errors.Is(err, errEndpointGone) {
			status = "gone"
		}

		l.logger.WarnContext(ctx, "job webhook delivery failed",
			"job_id", event.Job.ID, "event_type", event.Type, "url", l.url, "error", err)
	}

	if l.metrics != nil {
		l.metrics.RecordDelivery(ctx, string(event.Job.Type), string(event.Type), status, time.Since(started))
	}
}

func (l *WebhookListener) send(ctx context.Context, event service.JobEvent) error {
	payload := Payload{
		ID:        event.ID.String(),
		Type:      string(event.Type),
		Timestamp: event.Timestamp,
		Data:      event.Job,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	timestamp := time.Now()

	signature, err := l.signer.Sign(payload.ID, timestamp, body)
	if err != nil {
		return fmt.Errorf("sign webhook: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(standardwebhooks.HeaderWebhookID, payload.ID)
	req.Header.Set(standardwebhooks.HeaderWebhookSignature, signature)
	req.Header.Set(standardwebhooks.HeaderWebhookTimestamp, strconv.FormatInt(timestamp.Unix(), 10))

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			l.logger.WarnContext(ctx, "failed to close webhook response body", "error", closeErr)
		}
	}()

	if resp.StatusCode == http.StatusGone {
		l.disabled.Store(true)
		l.logger.InfoContext(ctx, "job webhook disabled after 410 Gone", "url", l.url)

		return fmt.Errorf("%w: %s", errEndpointGone, l.url)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}

	return nil
}

var _ service.JobEventListener = (*WebhookListener)(nil)
