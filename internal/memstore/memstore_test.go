package memstore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callinsights/hub/internal/huberrors"
	"github.com/callinsights/hub/internal/memstore"
	"github.com/callinsights/hub/internal/models"
	"github.com/callinsights/hub/internal/service"
)

var (
	_ service.CallStore       = (*memstore.Calls)(nil)
	_ service.JobStore        = (*memstore.Jobs)(nil)
	_ service.EnrichmentCache = (*memstore.Cache)(nil)
	_ service.CandidateSource = (*memstore.Cache)(nil)
)

func newCall(t *testing.T, s *memstore.Store, owner, transcript string) *models.Call {
	t.Helper()

	call, err := s.Calls.Create(context.Background(), owner, &models.CreateCallRequest{
		Title:      "Discovery call",
		Transcript: &transcript,
	})
	require.NoError(t, err)

	return call
}

func TestCalls_UpdateTranscript(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	call := newCall(t, s, "owner-1", "hello there")

	assert.Equal(t, models.TranscriptionStatusCompleted, call.TranscriptionStatus)

	updated, err := s.Calls.UpdateTranscript(ctx, call.ID, "hello again")
	require.NoError(t, err)
	assert.Equal(t, "hello again", updated.Transcript)
	assert.Equal(t, 1, updated.EditCount)

	_, err = s.Calls.UpdateTranscript(ctx, uuid.New(), "x")
	assert.ErrorIs(t, err, huberrors.ErrEntityNotFound)
}

func TestCalls_CompleteTranscription(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	audio := "https://example.com/a.mp3"

	call, err := s.Calls.Create(ctx, "owner-1", &models.CreateCallRequest{Title: "c", AudioURL: &audio})
	require.NoError(t, err)
	assert.Equal(t, models.TranscriptionStatusNone, call.TranscriptionStatus)

	applied, err := s.Calls.CompleteTranscription(ctx, call.ID, models.Transcription{
		Text: "hi", Language: "en", DurationSeconds: 61.6,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := s.Calls.GetByID(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Transcript)
	assert.Equal(t, models.TranscriptionStatusCompleted, got.TranscriptionStatus)
	require.NotNil(t, got.Language)
	assert.Equal(t, "en", *got.Language)
	require.NotNil(t, got.DurationSeconds)
	assert.Equal(t, 62, *got.DurationSeconds)

	t.Run("completed transcript is not replaced", func(t *testing.T) {
		applied, err := s.Calls.CompleteTranscription(ctx, call.ID, models.Transcription{Text: "again"})
		require.NoError(t, err)
		assert.False(t, applied)

		got, err := s.Calls.GetByID(ctx, call.ID)
		require.NoError(t, err)
		assert.Equal(t, "hi", got.Transcript)
	})

	t.Run("unknown call", func(t *testing.T) {
		_, err := s.Calls.CompleteTranscription(ctx, uuid.New(), models.Transcription{Text: "x"})
		assert.ErrorIs(t, err, huberrors.ErrEntityNotFound)
	})
}

func TestJobs_OneActivePerCallAndType(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	call := newCall(t, s, "owner-1", "text")

	first, err := s.Jobs.Create(ctx, call.ID, models.JobTypeInsights)
	require.NoError(t, err)

	_, err = s.Jobs.Create(ctx, call.ID, models.JobTypeInsights)
	require.ErrorIs(t, err, huberrors.ErrDuplicateActiveJob)

	var dup *huberrors.DuplicateActiveJobError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.ActiveJobID)

	_, err = s.Jobs.Create(ctx, call.ID, models.JobTypeEmbedding)
	require.NoError(t, err, "other job types are independent")

	_, err = s.Jobs.Transition(ctx, first.ID, models.JobStatusProcessing, models.JobUpdate{})
	require.NoError(t, err)
	_, err = s.Jobs.Transition(ctx, first.ID, models.JobStatusCompleted, models.JobUpdate{})
	require.NoError(t, err)

	_, err = s.Jobs.Create(ctx, call.ID, models.JobTypeInsights)
	assert.NoError(t, err, "slot is free after the job terminates")
}

func TestJobs_ConcurrentCreate(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	call := newCall(t, s, "owner-1", "text")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)

	for range 20 {
		wg.Go(func() {
			if _, err := s.Jobs.Create(ctx, call.ID, models.JobTypeEmbedding); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		})
	}

	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestJobs_Transition(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	call := newCall(t, s, "owner-1", "text")

	job, err := s.Jobs.Create(ctx, call.ID, models.JobTypeInsights)
	require.NoError(t, err)

	_, err = s.Jobs.Transition(ctx, job.ID, models.JobStatusCompleted, models.JobUpdate{})
	assert.ErrorIs(t, err, huberrors.ErrInvalidTransition, "pending cannot complete directly")

	assert.ErrorIs(t, s.Jobs.UpdateProgress(ctx, job.ID, models.JobProgress{Progress: 50}), huberrors.ErrInvalidTransition)

	started, err := s.Jobs.Transition(ctx, job.ID, models.JobStatusProcessing, models.JobUpdate{})
	require.NoError(t, err)
	assert.NotNil(t, started.StartedAt)

	require.NoError(t, s.Jobs.UpdateProgress(ctx, job.ID, models.JobProgress{Stage: "generating", Progress: 50}))

	msg := "boom"
	failed, err := s.Jobs.Transition(ctx, job.ID, models.JobStatusFailed, models.JobUpdate{Error: &msg})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "boom", *failed.Error)
	assert.NotNil(t, failed.CompletedAt)

	_, err = s.Jobs.Transition(ctx, job.ID, models.JobStatusCompleted, models.JobUpdate{})
	assert.ErrorIs(t, err, huberrors.ErrInvalidTransition, "terminal is final")
}

func TestJobs_Listing(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	mine := newCall(t, s, "owner-1", "a")
	theirs := newCall(t, s, "owner-2", "b")

	j1, err := s.Jobs.Create(ctx, mine.ID, models.JobTypeInsights)
	require.NoError(t, err)
	j2, err := s.Jobs.Create(ctx, mine.ID, models.JobTypeEmbedding)
	require.NoError(t, err)
	_, err = s.Jobs.Create(ctx, theirs.ID, models.JobTypeInsights)
	require.NoError(t, err)
	cached, err := s.Jobs.CreateCached(ctx, mine.ID, models.JobTypeTranscription)
	require.NoError(t, err)
	assert.True(t, cached.Cached)
	assert.Equal(t, models.JobStatusCompleted, cached.Status)

	active, err := s.Jobs.ListActive(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, j2.ID, active[0].ID, "newest first")
	assert.Equal(t, j1.ID, active[1].ID)

	all, err := s.Jobs.ListActive(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	completed, err := s.Jobs.ListByStatus(ctx, "owner-1", models.JobStatusCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, cached.ID, completed[0].ID)

	byCall, err := s.Jobs.ListByCall(ctx, mine.ID)
	require.NoError(t, err)
	assert.Len(t, byCall, 3)

	stale, err := s.Jobs.ListStale(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, stale, 3)

	stale, err = s.Jobs.ListStale(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestCache_LookupAndUpsert(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	callID := uuid.New()

	_, err := s.Cache.Lookup(ctx, callID, models.ContentTypeTranscriptForInsights, "h1")
	assert.ErrorIs(t, err, huberrors.ErrCacheMiss)

	require.NoError(t, s.Cache.Upsert(ctx, &models.CacheEntry{
		CallID: callID, ContentType: models.ContentTypeTranscriptForInsights, ContentHash: "h1", Model: "m1",
	}))

	got, err := s.Cache.Lookup(ctx, callID, models.ContentTypeTranscriptForInsights, "h1")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.Model)

	_, err = s.Cache.Lookup(ctx, callID, models.ContentTypeTranscriptForInsights, "h2")
	assert.ErrorIs(t, err, huberrors.ErrCacheMiss, "stale hash is a miss")

	require.NoError(t, s.Cache.Upsert(ctx, &models.CacheEntry{
		CallID: callID, ContentType: models.ContentTypeTranscriptForInsights, ContentHash: "h2", Model: "m2",
	}))

	latest, err := s.Cache.Latest(ctx, callID, models.ContentTypeTranscriptForInsights)
	require.NoError(t, err)
	assert.Equal(t, "h2", latest.ContentHash, "upsert replaces")

	require.NoError(t, s.Cache.Invalidate(ctx, callID, models.ContentTypeTranscriptForInsights))
	_, err = s.Cache.Latest(ctx, callID, models.ContentTypeTranscriptForInsights)
	assert.ErrorIs(t, err, huberrors.ErrCacheMiss)
}

func TestCache_ListCandidates(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	mine := newCall(t, s, "owner-1", "pricing objection")
	theirs := newCall(t, s, "owner-2", "other")
	positive := "positive"

	for _, id := range []uuid.UUID{mine.ID, theirs.ID} {
		require.NoError(t, s.Cache.Upsert(ctx, &models.CacheEntry{
			CallID:      id,
			ContentType: models.ContentTypeTranscriptForEmbedding,
			ContentHash: "h",
			Model:       "emb-1",
			Embedding:   []float32{1, 0},
			Metadata:    &models.EmbeddingMetadata{Sentiment: &positive},
		}))
	}

	got, err := s.Cache.ListCandidates(ctx, "owner-1", "emb-1", models.SearchFilters{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine.ID, got[0].CallID)
	assert.Equal(t, "pricing objection", got[0].Preview)

	got, err = s.Cache.ListCandidates(ctx, "owner-1", "emb-2", models.SearchFilters{})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.Cache.ListCandidates(ctx, "owner-1", "emb-1", models.SearchFilters{Sentiments: []string{"negative"}})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCache_RefreshInsightsFilters(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	call := newCall(t, s, "owner-1", "they asked to cancel")
	duration := 300
	negative := "negative"

	require.NoError(t, s.Cache.RefreshInsightsFilters(ctx, call.ID, models.InsightsFilters{Sentiment: &negative}),
		"no embedding yet")

	require.NoError(t, s.Cache.Upsert(ctx, &models.CacheEntry{
		CallID:      call.ID,
		ContentType: models.ContentTypeTranscriptForEmbedding,
		ContentHash: "h",
		Model:       "emb-1",
		Embedding:   []float32{1, 0},
		Metadata:    &models.EmbeddingMetadata{DurationSeconds: &duration},
	}))

	red := true
	filters := models.SearchFilters{Sentiments: []string{negative}, HasRedFlags: &red}

	got, err := s.Cache.ListCandidates(ctx, "owner-1", "emb-1", filters)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Cache.RefreshInsightsFilters(ctx, call.ID, models.InsightsFilters{Sentiment: &negative, HasRedFlags: true}))

	got, err = s.Cache.ListCandidates(ctx, "owner-1", "emb-1", filters)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Metadata.DurationSeconds)
	assert.Equal(t, 300, *got[0].Metadata.DurationSeconds)

	entry, err := s.Cache.Latest(ctx, call.ID, models.ContentTypeTranscriptForEmbedding)
	require.NoError(t, err)
	assert.Equal(t, "h", entry.ContentHash)
	assert.Equal(t, []float32{1, 0}, entry.Embedding)
}
