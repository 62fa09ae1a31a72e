package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/callinsights/hub/internal/huberrors"
	"github.com/callinsights/hub/internal/models"
	"github.com/callinsights/hub/internal/observability"
	"github.com/callinsights/hub/pkg/cache"
)

// ErrCacheMiss is returned by EnrichmentCache lookups that find nothing usable.
var ErrCacheMiss = huberrors.ErrCacheMiss

// EnrichmentCache maps (call, content type) to the latest generated artifact.
// Backends: repository.EnrichmentCacheRepository, rediscache.Cache, memstore.Cache.
type EnrichmentCache interface {
	// Lookup returns the entry only when its content hash equals hash; otherwise ErrCacheMiss.
	Lookup(ctx context.Context, callID uuid.UUID, contentType models.ContentType, hash string) (*models.CacheEntry, error)
	// Latest returns the stored entry regardless of hash, or ErrCacheMiss.
	Latest(ctx context.Context, callID uuid.UUID, contentType models.ContentType) (*models.CacheEntry, error)
	// Upsert replaces any entry for (entry.CallID, entry.ContentType).
	Upsert(ctx context.Context, entry *models.CacheEntry) error
	Invalidate(ctx context.Context, callID uuid.UUID, contentType models.ContentType) error
	// RefreshInsightsFilters overwrites the insights-derived metadata of the call's embedding
	// entry, leaving its vector and hash alone. No embedding entry is a no-op.
	RefreshInsightsFilters(ctx context.Context, callID uuid.UUID, f models.InsightsFilters) error
	// RecordCost appends a usage audit row.
	RecordCost(ctx context.Context, usage models.UsageRecord) error
}

type entryKey struct {
	callID      uuid.UUID
	contentType models.ContentType
}

func (k entryKey) String() string {
	return k.callID.String() + "|" + string(k.contentType)
}

// CachingEnrichmentCache fronts an EnrichmentCache with an in-process LRU (optionally with TTL).
// It caches Latest per (call, content type) and answers Lookup by comparing hashes. A mismatch
// reloads the entry from inner once, so writes made through another instance are picked up.
type CachingEnrichmentCache struct {
	inner   EnrichmentCache
	entries *cache.LoaderCache[entryKey, *models.CacheEntry]
	metrics observability.CacheMetrics
}

// NewCachingEnrichmentCache wraps inner. metrics may be nil.
func NewCachingEnrichmentCache(inner EnrichmentCache, opts cache.Options, metrics observability.CacheMetrics) (*CachingEnrichmentCache, error) {
	entries, err := cache.NewLoaderCacheWithOptions[entryKey, *models.CacheEntry](opts, entryKey.String)
	if err != nil {
		return nil, fmt.Errorf("create enrichment lru: %w", err)
	}

	return &CachingEnrichmentCache{inner: inner, entries: entries, metrics: metrics}, nil
}

func (c *CachingEnrichmentCache) Lookup(
	ctx context.Context, callID uuid.UUID, contentType models.ContentType, hash string,
) (*models.CacheEntry, error) {
	entry, err := c.Latest(ctx, callID, contentType)
	if err != nil && !errors.Is(err, ErrCacheMiss) {
		return nil, err
	}

	// Another replica may have replaced the entry behind the LRU; reload once before missing.
	if entry != nil && entry.ContentHash != hash {
		c.entries.Invalidate(entryKey{callID: callID, contentType: contentType})

		entry, err = c.Latest(ctx, callID, contentType)
		if err != nil && !errors.Is(err, ErrCacheMiss) {
			return nil, err
		}
	}

	if entry == nil || entry.ContentHash != hash {
		c.recordMiss(ctx)

		return nil, ErrCacheMiss
	}

	c.recordHit(ctx)

	return entry, nil
}

func (c *CachingEnrichmentCache) Latest(ctx context.Context, callID uuid.UUID, contentType models.ContentType) (*models.CacheEntry, error) {
	entry, err := c.entries.Get(ctx, entryKey{callID: callID, contentType: contentType},
		func(ctx context.Context, k entryKey) (*models.CacheEntry, error) {
			return c.inner.Latest(ctx, k.callID, k.contentType)
		})
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, ErrCacheMiss
		}

		return nil, fmt.Errorf("load cache entry: %w", err)
	}

	return entry, nil
}

func (c *CachingEnrichmentCache) Upsert(ctx context.Context, entry *models.CacheEntry) error {
	if err := c.inner.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}

	c.drop(ctx, entryKey{callID: entry.CallID, contentType: entry.ContentType})

	return nil
}

func (c *CachingEnrichmentCache) Invalidate(ctx context.Context, callID uuid.UUID, contentType models.ContentType) error {
	c.drop(ctx, entryKey{callID: callID, contentType: contentType})

	if err := c.inner.Invalidate(ctx, callID, contentType); err != nil {
		return fmt.Errorf("invalidate cache entry: %w", err)
	}

	return nil
}

func (c *CachingEnrichmentCache) RefreshInsightsFilters(ctx context.Context, callID uuid.UUID, f models.InsightsFilters) error {
	if err := c.inner.RefreshInsightsFilters(ctx, callID, f); err != nil {
		return fmt.Errorf("refresh embedding metadata: %w", err)
	}

	c.drop(ctx, entryKey{callID: callID, contentType: models.ContentTypeTranscriptForEmbedding})

	return nil
}

func (c *CachingEnrichmentCache) RecordCost(ctx context.Context, usage models.UsageRecord) error {
	return c.inner.RecordCost(ctx, usage)
}

func (c *CachingEnrichmentCache) drop(ctx context.Context, key entryKey) {
	c.entries.Invalidate(key)

	if c.metrics != nil {
		c.metrics.RecordInvalidation(ctx, observability.CacheNameEnrichment)
	}
}

func (c *CachingEnrichmentCache) recordHit(ctx context.Context) {
	if c.metrics != nil {
		c.metrics.RecordHit(ctx, observability.CacheNameEnrichment)
	}
}

func (c *CachingEnrichmentCache) recordMiss(ctx context.Context) {
	if c.metrics != nil {
		c.metrics.RecordMiss(ctx, observability.CacheNameEnrichment)
	}
}

var _ EnrichmentCache = (*CachingEnrichmentCache)(nil)
