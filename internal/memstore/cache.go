package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/callinsights/hub/internal/huberrors"
	"github.com/callinsights/hub/internal/models"
)

// previewLength is the number of transcript runes returned with search candidates.
const previewLength = 200

type entryKey struct {
	callID      uuid.UUID
	contentType models.ContentType
}

// Cache is an in-memory enrichment cache and search candidate source.
type Cache struct {
	mu      sync.RWMutex
	entries map[entryKey]models.CacheEntry
	usage   []models.UsageRecord
	calls   *Calls
}

// NewCache creates an empty cache. calls supplies owners and previews for ListCandidates.
func NewCache(calls *Calls) *Cache {
	return &Cache{
		entries: make(map[entryKey]models.CacheEntry),
		calls:   calls,
	}
}

// Lookup returns the entry when its hash equals hash.
func (c *Cache) Lookup(_ context.Context, callID uuid.UUID, contentType models.ContentType, hash string) (*models.CacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[entryKey{callID: callID, contentType: contentType}]
	if !ok || entry.ContentHash != hash {
		return nil, huberrors.ErrCacheMiss
	}

	return cloneEntry(entry), nil
}

// Latest returns the stored entry regardless of hash.
func (c *Cache) Latest(_ context.Context, callID uuid.UUID, contentType models.ContentType) (*models.CacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[entryKey{callID: callID, contentType: contentType}]
	if !ok {
		return nil, huberrors.ErrCacheMiss
	}

	return cloneEntry(entry), nil
}

// Upsert replaces the entry for (call, content type).
func (c *Cache) Upsert(_ context.Context, entry *models.CacheEntry) error {
	stored := cloneEntry(*entry)

	c.mu.Lock()
	c.entries[entryKey{callID: entry.CallID, contentType: entry.ContentType}] = *stored
	c.mu.Unlock()

	return nil
}

// Invalidate drops the entry for (call, content type), if any.
func (c *Cache) Invalidate(_ context.Context, callID uuid.UUID, contentType models.ContentType) error {
	c.mu.Lock()
	delete(c.entries, entryKey{callID: callID, contentType: contentType})
	c.mu.Unlock()

	return nil
}

// RefreshInsightsFilters updates the insights-derived metadata of the call's embedding entry.
func (c *Cache) RefreshInsightsFilters(_ context.Context, callID uuid.UUID, f models.InsightsFilters) error {
	key := entryKey{callID: callID, contentType: models.ContentTypeTranscriptForEmbedding}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}

	var md models.EmbeddingMetadata
	if entry.Metadata != nil {
		md = *entry.Metadata
	}

	md.ApplyInsights(f)
	entry.Metadata = &md
	c.entries[key] = entry

	return nil
}

// RecordCost appends a usage row.
func (c *Cache) RecordCost(_ context.Context, usage models.UsageRecord) error {
	c.mu.Lock()
	c.usage = append(c.usage, usage)
	c.mu.Unlock()

	return nil
}

// Usage returns a copy of the recorded usage rows in insertion order.
func (c *Cache) Usage() []models.UsageRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Clone(c.usage)
}

// ListCandidates returns embedding entries for ownerID's calls generated by model that match filters.
func (c *Cache) ListCandidates(_ context.Context, ownerID, model string, filters models.SearchFilters) ([]models.EmbeddingRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.EmbeddingRecord, 0)

	for key, entry := range c.entries {
		if key.contentType != models.ContentTypeTranscriptForEmbedding || entry.Model != model || len(entry.Embedding) == 0 {
			continue
		}

		call, ok := c.calls.get(key.callID)
		if !ok || call.OwnerID != ownerID {
			continue
		}

		var md models.EmbeddingMetadata
		if entry.Metadata != nil {
			md = *entry.Metadata
		}

		if !filters.Matches(md) {
			continue
		}

		out = append(out, models.EmbeddingRecord{
			CallID:   key.callID,
			Model:    entry.Model,
			Vector:   slices.Clone(entry.Embedding),
			Metadata: md,
			Preview:  preview(call.Transcript),
		})
	}

	return out, nil
}

func preview(transcript string) string {
	runes := []rune(transcript)
	if len(runes) <= previewLength {
		return transcript
	}

	return string(runes[:previewLength])
}

func cloneEntry(e models.CacheEntry) *models.CacheEntry {
	e.Artifact = slices.Clone(e.Artifact)
	e.Embedding = slices.Clone(e.Embedding)

	if e.Metadata != nil {
		md := *e.Metadata
		e.Metadata = &md
	}

	return &e
}
