package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CacheMetrics records lookups and invalidations per cache name.
type CacheMetrics interface {
	RecordHit(ctx context.Context, cacheName string)
	RecordMiss(ctx context.Context, cacheName string)
	// RecordInvalidation counts entries dropped from the in-process front because the
	// backing entry was replaced or removed.
	RecordInvalidation(ctx context.Context, cacheName string)
}

type cacheMetrics struct {
	hits          metric.Int64Counter
	misses        metric.Int64Counter
	invalidations metric.Int64Counter
}

// NewCacheMetrics creates CacheMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewCacheMetrics(meter metric.Meter) (CacheMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	newCounter := func(name, desc string) (metric.Int64Counter, error) {
		counter, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("1"))
		if err != nil {
			return nil, fmt.Errorf("create %s counter: %w", name, err)
		}

		return counter, nil
	}

	m := &cacheMetrics{}

	var err error

	if m.hits, err = newCounter(MetricNameCacheHits, "Enrichment lookups whose content hash matched a stored "+
		"artifact, and search queries whose vector was already embedded. Label cache: enrichment, query_embedding."); err != nil {
		return nil, err
	}

	if m.misses, err = newCounter(MetricNameCacheMisses,
		"Lookups that found no artifact for the current content hash."); err != nil {
		return nil, err
	}

	if m.invalidations, err = newCounter(MetricNameCacheInvalidations,
		"In-process entries dropped after an upsert or explicit invalidate."); err != nil {
		return nil, err
	}

	return m, nil
}

func attrCache(name string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String(AttrCache, NormalizeCacheName(name)))
}

func (c *cacheMetrics) RecordHit(ctx context.Context, cacheName string) {
	c.hits.Add(ctx, 1, attrCache(cacheName))
}

func (c *cacheMetrics) RecordMiss(ctx context.Context, cacheName string) {
	c.misses.Add(ctx, 1, attrCache(cacheName))
}

func (c *cacheMetrics) RecordInvalidation(ctx context.Context, cacheName string) {
	c.invalidations.Add(ctx, 1, attrCache(cacheName))
}
