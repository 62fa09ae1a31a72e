package rediscache

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/callinsights/hub/internal/huberrors"
	"github.com/callinsights/hub/internal/models"
)

func newTestRedis(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}

	ctx := context.Background()

	ctr, err := testcontainers.Run(ctx, "redis:7-alpine",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	endpoint, err := ctr.Endpoint(ctx, "")
	require.NoError(t, err)

	return "redis://" + endpoint + "/0"
}

type memStore struct {
	mu      sync.Mutex
	entries map[string]*models.CacheEntry
	usage   []models.UsageRecord
	loads   int
}

func newMemStore() *memStore {
	return &memStore{entries: map[string]*models.CacheEntry{}}
}

func (m *memStore) Latest(_ context.Context, callID uuid.UUID, ct models.ContentType) (*models.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loads++

	e, ok := m.entries[callID.String()+string(ct)]
	if !ok {
		return nil, huberrors.ErrCacheMiss
	}

	return e, nil
}

func (m *memStore) Upsert(_ context.Context, e *models.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[e.CallID.String()+string(e.ContentType)] = e

	return nil
}

func (m *memStore) Invalidate(_ context.Context, callID uuid.UUID, ct models.ContentType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, callID.String()+string(ct))

	return nil
}

func (m *memStore) RefreshInsightsFilters(_ context.Context, callID uuid.UUID, f models.InsightsFilters) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[callID.String()+string(models.ContentTypeTranscriptForEmbedding)]
	if !ok {
		return nil
	}

	md := models.EmbeddingMetadata{}
	if e.Metadata != nil {
		md = *e.Metadata
	}

	md.ApplyInsights(f)

	updated := *e
	updated.Metadata = &md
	m.entries[callID.String()+string(models.ContentTypeTranscriptForEmbedding)] = &updated

	return nil
}

func (m *memStore) RecordCost(_ context.Context, u models.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.usage = append(m.usage, u)

	return nil
}

func insightsEntry(callID uuid.UUID, hash string) *models.CacheEntry {
	return &models.CacheEntry{
		CallID:      callID,
		ContentType: models.ContentTypeTranscriptForInsights,
		Model:       "gpt-4o-mini",
		ContentHash: hash,
		Artifact:    json.RawMessage(`{"summary":"renewal call"}`),
		Usage:       models.Usage{PromptTokens: 120, CompletionTokens: 40, CostUSD: 0.002},
		GeneratedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func embeddingEntry(callID uuid.UUID) *models.CacheEntry {
	return &models.CacheEntry{
		CallID:      callID,
		ContentType: models.ContentTypeTranscriptForEmbedding,
		Model:       "text-embedding-3-small",
		ContentHash: "e1",
		Embedding:   []float32{0.1, 0.2, 0.3},
		Metadata:    &models.EmbeddingMetadata{},
		GeneratedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestCache(t *testing.T) {
	url := newTestRedis(t)
	ctx := context.Background()

	rdb, err := Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	t.Run("lookup requires an exact hash", func(t *testing.T) {
		c := New(rdb, WithPrefix("t1"))
		callID := uuid.New()

		_, err := c.Lookup(ctx, callID, models.ContentTypeTranscriptForInsights, "h1")
		require.ErrorIs(t, err, huberrors.ErrCacheMiss)

		require.NoError(t, c.Upsert(ctx, insightsEntry(callID, "h1")))

		got, err := c.Lookup(ctx, callID, models.ContentTypeTranscriptForInsights, "h1")
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o-mini", got.Model)
		assert.JSONEq(t, `{"summary":"renewal call"}`, string(got.Artifact))

		_, err = c.Lookup(ctx, callID, models.ContentTypeTranscriptForInsights, "h2")
		require.ErrorIs(t, err, huberrors.ErrCacheMiss)

		latest, err := c.Latest(ctx, callID, models.ContentTypeTranscriptForInsights)
		require.NoError(t, err)
		assert.Equal(t, "h1", latest.ContentHash)
	})

	t.Run("upsert replaces and invalidate removes", func(t *testing.T) {
		c := New(rdb, WithPrefix("t2"))
		callID := uuid.New()

		require.NoError(t, c.Upsert(ctx, insightsEntry(callID, "h1")))
		require.NoError(t, c.Upsert(ctx, insightsEntry(callID, "h2")))

		latest, err := c.Latest(ctx, callID, models.ContentTypeTranscriptForInsights)
		require.NoError(t, err)
		assert.Equal(t, "h2", latest.ContentHash)

		require.NoError(t, c.Invalidate(ctx, callID, models.ContentTypeTranscriptForInsights))

		_, err = c.Latest(ctx, callID, models.ContentTypeTranscriptForInsights)
		require.ErrorIs(t, err, huberrors.ErrCacheMiss)
	})

	t.Run("usage list", func(t *testing.T) {
		c := New(rdb, WithPrefix("t3"))
		callID := uuid.New()

		require.NoError(t, c.RecordCost(ctx, models.UsageRecord{CallID: callID, JobType: models.JobTypeInsights, TokenCount: 160}))
		require.NoError(t, c.RecordCost(ctx, models.UsageRecord{CallID: callID, JobType: models.JobTypeInsights, Cached: true}))

		usage, err := c.Usage(ctx)
		require.NoError(t, err)
		require.Len(t, usage, 2)
		assert.Equal(t, int64(160), usage[0].TokenCount)
		assert.True(t, usage[1].Cached)
		assert.False(t, usage[1].CreatedAt.IsZero())
	})

	t.Run("write-through loads misses from the store once", func(t *testing.T) {
		store := newMemStore()
		c := New(rdb, WithPrefix("t4"), WithWriteThrough(store), WithTTL(time.Minute))
		callID := uuid.New()

		require.NoError(t, store.Upsert(ctx, insightsEntry(callID, "h1")))

		for range 3 {
			got, err := c.Lookup(ctx, callID, models.ContentTypeTranscriptForInsights, "h1")
			require.NoError(t, err)
			assert.Equal(t, "h1", got.ContentHash)
		}

		assert.Equal(t, 1, store.loads)

		require.NoError(t, c.Upsert(ctx, insightsEntry(callID, "h2")))

		stored, err := store.Latest(ctx, callID, models.ContentTypeTranscriptForInsights)
		require.NoError(t, err)
		assert.Equal(t, "h2", stored.ContentHash)

		require.NoError(t, c.RecordCost(ctx, models.UsageRecord{CallID: callID, JobType: models.JobTypeInsights}))
		assert.Len(t, store.usage, 1)

		inRedis, err := c.Usage(ctx)
		require.NoError(t, err)
		assert.Empty(t, inRedis)
	})

	t.Run("refresh insights filters keeps vector and ttl", func(t *testing.T) {
		c := New(rdb, WithPrefix("t5"), WithTTL(time.Hour))
		callID := uuid.New()
		sentiment := "negative"

		require.NoError(t, c.Upsert(ctx, embeddingEntry(callID)))
		require.NoError(t, c.RefreshInsightsFilters(ctx, callID, models.InsightsFilters{Sentiment: &sentiment, HasRedFlags: true}))

		got, err := c.Latest(ctx, callID, models.ContentTypeTranscriptForEmbedding)
		require.NoError(t, err)
		require.NotNil(t, got.Metadata)
		require.NotNil(t, got.Metadata.Sentiment)
		assert.Equal(t, "negative", *got.Metadata.Sentiment)
		assert.True(t, got.Metadata.HasRedFlags)
		assert.Equal(t, "e1", got.ContentHash)
		assert.Equal(t, []float32{0.1, 0.2, 0.3}, got.Embedding)

		ttl, err := rdb.TTL(ctx, c.key(callID, models.ContentTypeTranscriptForEmbedding)).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
	})

	t.Run("refresh insights filters without an embedding is a no-op", func(t *testing.T) {
		c := New(rdb, WithPrefix("t6"))
		callID := uuid.New()

		require.NoError(t, c.RefreshInsightsFilters(ctx, callID, models.InsightsFilters{HasActionItems: true}))

		_, err := c.Latest(ctx, callID, models.ContentTypeTranscriptForEmbedding)
		require.ErrorIs(t, err, huberrors.ErrCacheMiss)
	})

	t.Run("write-through refresh updates the store and drops the redis copy", func(t *testing.T) {
		store := newMemStore()
		c := New(rdb, WithPrefix("t7"), WithWriteThrough(store))
		callID := uuid.New()
		outcome := "churned"

		require.NoError(t, c.Upsert(ctx, embeddingEntry(callID)))
		require.NoError(t, c.RefreshInsightsFilters(ctx, callID, models.InsightsFilters{Outcome: &outcome}))

		got, err := c.Latest(ctx, callID, models.ContentTypeTranscriptForEmbedding)
		require.NoError(t, err)
		require.NotNil(t, got.Metadata.Outcome)
		assert.Equal(t, "churned", *got.Metadata.Outcome)
		assert.Equal(t, 1, store.loads)
	})
}

func TestConnect_InvalidURL(t *testing.T) {
	_, err := Connect(context.Background(), "not a url")
	require.Error(t, err)
}
