package observability

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EventMetrics records job event broker and queue metrics.
type EventMetrics interface {
	RecordEventDropped(ctx context.Context, eventType string)
	SetSubscriberCount(n int)
	// SetQueueDepth records enrichment jobs waiting in the River queue.
	SetQueueDepth(n int)
}

type eventMetrics struct {
	dropped         metric.Int64Counter
	subscribers     atomic.Int64
	subscriberGauge metric.Int64ObservableGauge
	queueDepth      atomic.Int64
	queueGauge      metric.Int64ObservableGauge
}

// NewEventMetrics creates EventMetrics and registers the subscriber gauge.
// Returns (nil, nil) when meter is nil (metrics disabled).
func NewEventMetrics(meter metric.Meter) (EventMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	dropped, err := meter.Int64Counter(
		MetricNameJobEventsDropped,
		metric.WithDescription("Job events dropped because a subscriber buffer was full"),
	)
	if err != nil {
		return nil, fmt.Errorf("create job events dropped counter: %w", err)
	}

	m := &eventMetrics{dropped: dropped}

	gauge, err := meter.Int64ObservableGauge(
		MetricNameJobEventSubscribers,
		metric.WithDescription("Current number of job event subscribers (SSE streams)"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.subscribers.Load())

			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create job event subscribers gauge: %w", err)
	}

	m.subscriberGauge = gauge

	queueGauge, err := meter.Int64ObservableGauge(
		MetricNameEnrichmentQueueDepth,
		metric.WithDescription("Enrichment jobs available, retryable or scheduled in the River queue"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.queueDepth.Load())

			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create enrichment queue depth gauge: %w", err)
	}

	m.queueGauge = queueGauge

	return m, nil
}

func (e *eventMetrics) RecordEventDropped(ctx context.Context, eventType string) {
	e.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrEventType, NormalizeEventType(eventType))))
}

func (e *eventMetrics) SetSubscriberCount(n int) {
	e.subscribers.Store(int64(n))
}

func (e *eventMetrics) SetQueueDepth(n int) {
	e.queueDepth.Store(int64(n))
}
