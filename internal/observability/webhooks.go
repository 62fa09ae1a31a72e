package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// WebhookMetrics records job notification webhook deliveries.
type WebhookMetrics interface {
	// RecordDelivery counts one delivery attempt sequence. status is success, failed or gone
	// (the endpoint answered 410 and was disabled).
	RecordDelivery(ctx context.Context, jobType, eventType, status string, duration time.Duration)
}

type webhookMetrics struct {
	deliveries metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewWebhookMetrics creates WebhookMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewWebhookMetrics(meter metric.Meter) (WebhookMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	deliveries, err := meter.Int64Counter(
		MetricNameWebhookDeliveries,
		metric.WithDescription("Job notification webhook deliveries by job type, event type and status "+
			"(success, failed, gone)"),
	)
	if err != nil {
		return nil, fmt.Errorf("create webhook deliveries counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		MetricNameWebhookDeliveryLatency,
		metric.WithDescription("Time from first attempt to final outcome of a job notification, retries included"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create webhook delivery duration histogram: %w", err)
	}

	return &webhookMetrics{deliveries: deliveries, duration: duration}, nil
}

func (w *webhookMetrics) RecordDelivery(ctx context.Context, jobType, eventType, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(AttrJobType, NormalizeJobType(jobType)),
		attribute.String(AttrEventType, NormalizeEventType(eventType)),
		attribute.String(AttrStatus, NormalizeReason(status, AllowedDeliveryStatuses)),
	)
	w.deliveries.Add(ctx, 1, attrs)
	w.duration.Record(ctx, duration.Seconds(), attrs)
}
