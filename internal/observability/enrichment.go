package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EnrichmentMetrics records orchestrator and worker metrics.
// Methods accept ctx for future exemplar support.
type EnrichmentMetrics interface {
	RecordRequest(ctx context.Context, jobType, outcome string)
	RecordJobOutcome(ctx context.Context, jobType, outcome string, duration time.Duration)
	RecordCapabilityError(ctx context.Context, jobType, reason string)
	RecordCapabilityRetry(ctx context.Context, jobType string)
	RecordStaleJobsFailed(ctx context.Context, count int)
	RecordSearchDuration(ctx context.Context, duration time.Duration)
}

type enrichmentMetrics struct {
	requests         metric.Int64Counter
	jobs             metric.Int64Counter
	duration         metric.Float64Histogram
	capabilityErrors metric.Int64Counter
	retries          metric.Int64Counter
	staleJobs        metric.Int64Counter
	searchDuration   metric.Float64Histogram
}

// NewEnrichmentMetrics creates EnrichmentMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewEnrichmentMetrics(meter metric.Meter) (EnrichmentMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	requests, err := meter.Int64Counter(
		MetricNameEnrichmentRequests,
		metric.WithDescription("Enrich requests by job type and outcome (cached, queued, duplicate, rejected)"),
	)
	if err != nil {
		return nil, fmt.Errorf("create enrichment requests counter: %w", err)
	}

	jobs, err := meter.Int64Counter(
		MetricNameEnrichmentJobs,
		metric.WithDescription("Enrichment jobs reaching a terminal status"),
	)
	if err != nil {
		return nil, fmt.Errorf("create enrichment jobs counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		MetricNameEnrichmentDuration,
		metric.WithDescription("Time from processing to terminal status (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create enrichment duration histogram: %w", err)
	}

	capabilityErrors, err := meter.Int64Counter(
		MetricNameCapabilityErrors,
		metric.WithDescription("External capability failures by job type and reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("create capability errors counter: %w", err)
	}

	retries, err := meter.Int64Counter(
		MetricNameCapabilityRetries,
		metric.WithDescription("Retries of transient capability errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("create capability retries counter: %w", err)
	}

	staleJobs, err := meter.Int64Counter(
		MetricNameStaleJobsFailed,
		metric.WithDescription("Jobs failed by the stale job sweeper"),
	)
	if err != nil {
		return nil, fmt.Errorf("create stale jobs counter: %w", err)
	}

	searchDuration, err := meter.Float64Histogram(
		MetricNameSearchDuration,
		metric.WithDescription("Semantic search duration including query embedding (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create search duration histogram: %w", err)
	}

	return &enrichmentMetrics{
		requests:         requests,
		jobs:             jobs,
		duration:         duration,
		capabilityErrors: capabilityErrors,
		retries:          retries,
		staleJobs:        staleJobs,
		searchDuration:   searchDuration,
	}, nil
}

func attrJobType(jobType string) attribute.KeyValue {
	return attribute.String(AttrJobType, NormalizeJobType(jobType))
}

func (e *enrichmentMetrics) RecordRequest(ctx context.Context, jobType, outcome string) {
	outcome = NormalizeReason(outcome, AllowedEnrichmentOutcomes)
	e.requests.Add(ctx, 1, metric.WithAttributes(attrJobType(jobType), attribute.String(AttrOutcome, outcome)))
}

func (e *enrichmentMetrics) RecordJobOutcome(ctx context.Context, jobType, outcome string, duration time.Duration) {
	outcome = NormalizeReason(outcome, AllowedJobOutcomes)
	attrs := metric.WithAttributes(attrJobType(jobType), attribute.String(AttrOutcome, outcome))
	e.jobs.Add(ctx, 1, attrs)
	e.duration.Record(ctx, duration.Seconds(), attrs)
}

func (e *enrichmentMetrics) RecordCapabilityError(ctx context.Context, jobType, reason string) {
	reason = NormalizeReason(reason, AllowedCapabilityReasons)
	e.capabilityErrors.Add(ctx, 1, metric.WithAttributes(attrJobType(jobType), attribute.String(AttrReason, reason)))
}

func (e *enrichmentMetrics) RecordCapabilityRetry(ctx context.Context, jobType string) {
	e.retries.Add(ctx, 1, metric.WithAttributes(attrJobType(jobType)))
}

func (e *enrichmentMetrics) RecordStaleJobsFailed(ctx context.Context, count int) {
	e.staleJobs.Add(ctx, int64(count))
}

func (e *enrichmentMetrics) RecordSearchDuration(ctx context.Context, duration time.Duration) {
	e.searchDuration.Record(ctx, duration.Seconds())
}
