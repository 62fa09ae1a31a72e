// Package observability provides slog trace context, OpenTelemetry metrics (Prometheus exporter) and tracing.
package observability

import (
	"github.com/callinsights/hub/internal/models"
)

// Metric names (Prometheus / OpenTelemetry).
const (
	MetricNameHTTPRequests           = "hub_http_requests_total"
	MetricNameHTTPDuration           = "hub_http_request_duration_seconds"
	MetricNameRequestBodyTooLarge    = "hub_http_request_body_too_large_total"
	MetricNameCacheHits              = "hub_cache_hits_total"
	MetricNameCacheMisses            = "hub_cache_misses_total"
	MetricNameCacheInvalidations     = "hub_cache_invalidations_total"
	MetricNameEnrichmentRequests     = "hub_enrichment_requests_total"
	MetricNameEnrichmentJobs         = "hub_enrichment_jobs_total"
	MetricNameEnrichmentDuration     = "hub_enrichment_job_duration_seconds"
	MetricNameCapabilityErrors       = "hub_capability_errors_total"
	MetricNameCapabilityRetries      = "hub_capability_retries_total"
	MetricNameStaleJobsFailed        = "hub_stale_jobs_failed_total"
	MetricNameJobEventsDropped       = "hub_job_events_dropped_total"
	MetricNameJobEventSubscribers    = "hub_job_event_subscribers"
	MetricNameEnrichmentQueueDepth   = "hub_enrichment_queue_depth"
	MetricNameWebhookDeliveries      = "hub_job_webhook_deliveries_total"
	MetricNameWebhookDeliveryLatency = "hub_job_webhook_delivery_duration_seconds"
	MetricNameSearchDuration         = "hub_search_duration_seconds"
)

// Attribute keys.
const (
	AttrJobType   = "job_type"
	AttrOutcome   = "outcome"
	AttrReason    = "reason"
	AttrStatus    = "status"
	AttrCache     = "cache"
	AttrEventType = "event_type"
)

// Cache names used as the "cache" attribute.
const (
	CacheNameEnrichment     = "enrichment"
	CacheNameQueryEmbedding = "query_embedding"
)

// AllowedEnrichmentOutcomes for hub_enrichment_requests_total.
var AllowedEnrichmentOutcomes = map[string]bool{
	"cached":    true,
	"queued":    true,
	"duplicate": true,
	"rejected":  true,
}

// AllowedJobOutcomes for hub_enrichment_jobs_total and hub_enrichment_job_duration_seconds.
var AllowedJobOutcomes = map[string]bool{
	"completed": true,
	"failed":    true,
}

// AllowedCapabilityReasons for hub_capability_errors_total.
var AllowedCapabilityReasons = map[string]bool{
	"timeout":         true,
	"transient":       true,
	"permanent":       true,
	"empty_content":   true,
	"store_failed":    true,
	"dispatch_failed": true,
}

// AllowedDeliveryStatuses for job webhook deliveries.
var AllowedDeliveryStatuses = map[string]bool{
	"success": true,
	"failed":  true,
	"gone":    true,
}

var allowedCacheNames = map[string]bool{
	CacheNameEnrichment:     true,
	CacheNameQueryEmbedding: true,
}

// NormalizeJobType returns jobType if it is a known job type, otherwise "unknown".
func NormalizeJobType(jobType string) string {
	if models.JobType(jobType).IsValid() {
		return jobType
	}

	return "unknown"
}

// NormalizeReason returns reason if in allowed, otherwise "other".
func NormalizeReason(reason string, allowed map[string]bool) string {
	if allowed[reason] {
		return reason
	}

	return "other"
}

// NormalizeCacheName bounds the cache attribute to known cache names.
func NormalizeCacheName(name string) string {
	if allowedCacheNames[name] {
		return name
	}

	return "other"
}

// NormalizeEventType bounds the job event type attribute.
func NormalizeEventType(eventType string) string {
	switch eventType {
	case "job.created", "job.progress", "job.processing", "job.completed", "job.failed":
		return eventType
	default:
		return "unknown"
	}
}
