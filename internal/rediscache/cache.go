// Package rediscache is a Redis EnrichmentCache backend.
//
// Each (call, content type) is one JSON value under hub:enrichment:{callID}:{contentType}.
// Usage rows go to a capped list unless a durable store is configured with WithWriteThrough,
// in which case Redis is a read-through tier in front of it.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/callinsights/hub/internal/huberrors"
	"github.com/callinsights/hub/internal/models"
)

const (
	defaultPrefix   = "hub:enrichment"
	defaultUsageCap = 100_000
	pingTimeout     = 5 * time.Second
)

// Store is the durable backend Redis reads through to. Implemented by
// repository.EnrichmentCacheRepository.
type Store interface {
	Latest(ctx context.Context, callID uuid.UUID, contentType models.ContentType) (*models.CacheEntry, error)
	Upsert(ctx context.Context, entry *models.CacheEntry) error
	Invalidate(ctx context.Context, callID uuid.UUID, contentType models.ContentType) error
	RefreshInsightsFilters(ctx context.Context, callID uuid.UUID, f models.InsightsFilters) error
	RecordCost(ctx context.Context, usage models.UsageRecord) error
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL expires Redis entries after ttl. Zero keeps them until overwritten.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithPrefix changes the key prefix.
func WithPrefix(prefix string) Option {
	return func(c *Cache) { c.prefix = prefix }
}

// WithWriteThrough makes store the system of record: writes reach store first and Redis misses
// are loaded from it.
func WithWriteThrough(store Store) Option {
	return func(c *Cache) { c.store = store }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// Cache implements service.EnrichmentCache on Redis.
type Cache struct {
	rdb    goredis.UniversalClient
	store  Store
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// New wraps an existing client.
func New(rdb goredis.UniversalClient, opts ...Option) *Cache {
	c := &Cache{
		rdb:    rdb,
		prefix: defaultPrefix,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Connect parses a redis:// URL, pings the server and returns the client.
func Connect(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	if opts.DialTimeout == 0 {
		opts.DialTimeout = pingTimeout
	}

	rdb := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()

		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return rdb, nil
}

func (c *Cache) key(callID uuid.UUID, contentType models.ContentType) string {
	return c.prefix + ":" + callID.String() + ":" + string(contentType)
}

func (c *Cache) usageKey() string {
	return c.prefix + ":usage"
}

// Lookup returns the entry only when its stored hash equals hash.
func (c *Cache) Lookup(
	ctx context.Context, callID uuid.UUID, contentType models.ContentType, hash string,
) (*models.CacheEntry, error) {
	entry, err := c.Latest(ctx, callID, contentType)
	if err != nil {
		return nil, err
	}

	if entry.ContentHash != hash {
		return nil, huberrors.ErrCacheMiss
	}

	return entry, nil
}

// Latest returns the stored entry regardless of hash.
func (c *Cache) Latest(ctx context.Context, callID uuid.UUID, contentType models.ContentType) (*models.CacheEntry, error) {
	raw, err := c.rdb.Get(ctx, c.key(callID, contentType)).Bytes()
	switch {
	case err == nil:
		var entry models.CacheEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("decode cache entry: %w", err)
		}

		return &entry, nil
	case errors.Is(err, goredis.Nil):
		return c.loadThrough(ctx, callID, contentType)
	default:
		return nil, fmt.Errorf("redis get: %w", err)
	}
}

func (c *Cache) loadThrough(ctx context.Context, callID uuid.UUID, contentType models.ContentType) (*models.CacheEntry, error) {
	if c.store == nil {
		return nil, huberrors.ErrCacheMiss
	}

	entry, err := c.store.Latest(ctx, callID, contentType)
	if err != nil {
		return nil, err
	}

	if err := c.set(ctx, entry); err != nil {
		c.logger.WarnContext(ctx, "redis cache: populate failed",
			"call_id", callID, "content_type", contentType, "error", err)
	}

	return entry, nil
}

// Upsert replaces the entry for (entry.CallID, entry.ContentType).
func (c *Cache) Upsert(ctx context.Context, entry *models.CacheEntry) error {
	if c.store != nil {
		if err := c.store.Upsert(ctx, entry); err != nil {
			return err
		}
	}

	if err := c.set(ctx, entry); err != nil {
		if c.store == nil {
			return err
		}

		// The durable write succeeded; drop the stale copy so the next read reloads it.
		if delErr := c.rdb.Del(ctx, c.key(entry.CallID, entry.ContentType)).Err(); delErr != nil {
			return fmt.Errorf("redis set: %w; redis del: %w", err, delErr)
		}
	}

	return nil
}

func (c *Cache) set(ctx context.Context, entry *models.CacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	if err := c.rdb.Set(ctx, c.key(entry.CallID, entry.ContentType), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Invalidate removes the entry from Redis and the durable store.
func (c *Cache) Invalidate(ctx context.Context, callID uuid.UUID, contentType models.ContentType) error {
	if err := c.rdb.Del(ctx, c.key(callID, contentType)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}

	if c.store != nil {
		return c.store.Invalidate(ctx, callID, contentType)
	}

	return nil
}

// RefreshInsightsFilters updates the insights-derived metadata of the call's embedding entry.
// With a durable store the store is updated and the Redis copy dropped; otherwise the Redis value
// is rewritten in a WATCH transaction, keeping its TTL.
func (c *Cache) RefreshInsightsFilters(ctx context.Context, callID uuid.UUID, f models.InsightsFilters) error {
	key := c.key(callID, models.ContentTypeTranscriptForEmbedding)

	if c.store != nil {
		if err := c.store.RefreshInsightsFilters(ctx, callID, f); err != nil {
			return err
		}

		if err := c.rdb.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}

		return nil
	}

	err := c.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("redis get: %w", err)
		}

		var entry models.CacheEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return fmt.Errorf("decode cache entry: %w", err)
		}

		var md models.EmbeddingMetadata
		if entry.Metadata != nil {
			md = *entry.Metadata
		}

		md.ApplyInsights(f)
		entry.Metadata = &md

		updated, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("encode cache entry: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, updated, goredis.KeepTTL)

			return nil
		})

		return err
	}, key)
	if err != nil {
		return fmt.Errorf("redis refresh filters: %w", err)
	}

	return nil
}

// RecordCost appends a usage row to the durable store, or to a capped Redis list without one.
func (c *Cache) RecordCost(ctx context.Context, usage models.UsageRecord) error {
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}

	if c.store != nil {
		return c.store.RecordCost(ctx, usage)
	}

	raw, err := json.Marshal(usage)
	if err != nil {
		return fmt.Errorf("encode usage: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, c.usageKey(), raw)
	pipe.LTrim(ctx, c.usageKey(), -defaultUsageCap, -1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis record usage: %w", err)
	}

	return nil
}

// Usage returns the usage rows held in Redis, oldest first.
func (c *Cache) Usage(ctx context.Context) ([]models.UsageRecord, error) {
	rows, err := c.rdb.LRange(ctx, c.usageKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}

	out := make([]models.UsageRecord, 0, len(rows))

	for _, row := range rows {
		var u models.UsageRecord
		if err := json.Unmarshal([]byte(row), &u); err != nil {
			return nil, fmt.Errorf("decode usage: %w", err)
		}

		out = append(out, u)
	}

	return out, nil
}
