package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callinsights/hub/internal/huberrors"
	"github.com/callinsights/hub/internal/memstore"
	"github.com/callinsights/hub/internal/models"
)

const testOwner = "owner-1"

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, in GenerateInput) (*GenerateOutput, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, in GenerateInput) (*GenerateOutput, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	return g.fn(ctx, in)
}

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.calls
}

func insightsGenerator(model string) *fakeGenerator {
	return &fakeGenerator{fn: func(_ context.Context, _ GenerateInput) (*GenerateOutput, error) {
		artifact, _ := json.Marshal(models.CallInsights{Summary: "customer asked about pricing", Sentiment: models.SentimentPositive})

		return &GenerateOutput{
			Model:    model,
			Artifact: artifact,
			Usage:    models.Usage{PromptTokens: 100, CompletionTokens: 20, CostUSD: 0.002},
		}, nil
	}}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []JobEvent
}

func (p *recordingPublisher) Publish(_ context.Context, eventType JobEventType, job models.Job) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, JobEvent{Type: eventType, Job: job})
}

func (p *recordingPublisher) forJob(id uuid.UUID) []JobEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []JobEvent

	for _, e := range p.events {
		if e.Job.ID == id {
			out = append(out, e)
		}
	}

	return out
}

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(_ context.Context, _ *models.Job) error { return nil }

type failingDispatcher struct{ err error }

func (d failingDispatcher) Dispatch(_ context.Context, _ *models.Job) error { return d.err }

// costFailingCache fails every RecordCost.
type costFailingCache struct {
	EnrichmentCache
}

func (costFailingCache) RecordCost(_ context.Context, _ models.UsageRecord) error {
	return errors.New("usage table unavailable")
}

// lookupFailingCache fails every Lookup with a backend error.
type lookupFailingCache struct {
	EnrichmentCache
}

func (lookupFailingCache) Lookup(_ context.Context, _ uuid.UUID, _ models.ContentType, _ string) (*models.CacheEntry, error) {
	return nil, errors.New("connection refused")
}

type orchestratorFixture struct {
	store  *memstore.Store
	orch   *Orchestrator
	events *recordingPublisher
}

type fixtureOption func(*OrchestratorParams)

func withCache(wrap func(EnrichmentCache) EnrichmentCache) fixtureOption {
	return func(p *OrchestratorParams) { p.Cache = wrap(p.Cache) }
}

func withTimeout(d time.Duration) fixtureOption {
	return func(p *OrchestratorParams) { p.CapabilityTimeout = d }
}

// newFixture wires an orchestrator over memstore with a synchronous inline dispatcher, so Enrich
// returns after the job has finished.
func newFixture(t *testing.T, generators map[models.JobType]Generator, opts ...fixtureOption) *orchestratorFixture {
	t.Helper()

	store := memstore.New()
	events := &recordingPublisher{}

	params := OrchestratorParams{
		Calls:      store.Calls,
		Jobs:       store.Jobs,
		Cache:      store.Cache,
		Generators: generators,
		Events:     events,
	}
	for _, opt := range opts {
		opt(&params)
	}

	orch := NewOrchestrator(params)
	orch.SetDispatcher(NewInlineDispatcher(orch, false, nil))

	return &orchestratorFixture{store: store, orch: orch, events: events}
}

func (f *orchestratorFixture) createCall(t *testing.T, owner, transcript string) *models.Call {
	t.Helper()

	call, err := f.store.Calls.Create(context.Background(), owner, &models.CreateCallRequest{
		Title:      "Renewal call",
		Transcript: &transcript,
	})
	require.NoError(t, err)

	return call
}

func (f *orchestratorFixture) job(t *testing.T, id uuid.UUID) *models.Job {
	t.Helper()

	job, err := f.store.Jobs.Get(context.Background(), id)
	require.NoError(t, err)

	return job
}

func insightsRequest(callID uuid.UUID) models.EnrichRequest {
	return models.EnrichRequest{CallID: callID, JobType: models.JobTypeInsights}
}

func TestOrchestrator_Enrich_CacheHitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	gen := insightsGenerator("gpt-test")
	f := newFixture(t, map[models.JobType]Generator{models.JobTypeInsights: gen})
	call := f.createCall(t, testOwner, "Hi, thanks for joining.\nLet's talk pricing.")

	first, err := f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, models.JobStatusCompleted, f.job(t, first.JobID).Status)

	second, err := f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, models.JobStatusCompleted, second.Status)
	require.NotNil(t, second.ArtifactRef)
	assert.Equal(t, "gpt-test", second.ArtifactRef.Model)
	assert.NotEqual(t, first.JobID, second.JobID)

	cachedJob := f.job(t, second.JobID)
	assert.True(t, cachedJob.Cached)
	assert.Equal(t, models.JobStatusCompleted, cachedJob.Status)

	assert.Equal(t, 1, gen.Calls(), "generator runs once for unchanged content")

	usage := f.store.Cache.Usage()
	require.Len(t, usage, 2)
	assert.False(t, usage[0].Cached)
	assert.Equal(t, int64(120), usage[0].TokenCount)
	assert.InDelta(t, 0.002, usage[0].CostUSD, 1e-9)
	assert.True(t, usage[1].Cached)
	assert.Zero(t, usage[1].TokenCount)
	assert.Zero(t, usage[1].CostUSD)
}

func TestOrchestrator_Enrich_WhitespaceOnlyChangeStillHits(t *testing.T) {
	ctx := context.Background()
	gen := insightsGenerator("gpt-test")
	f := newFixture(t, map[models.JobType]Generator{models.JobTypeInsights: gen})
	call := f.createCall(t, testOwner, "line one\r\nline two")

	_, err := f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	require.NoError(t, err)

	_, err = f.store.Calls.UpdateTranscript(ctx, call.ID, "line one\nline two  ")
	require.NoError(t, err)

	res, err := f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, 1, gen.Calls())
}

func TestOrchestrator_Enrich_EditedTranscriptMisses(t *testing.T) {
	ctx := context.Background()
	gen := insightsGenerator("gpt-test")
	f := newFixture(t, map[models.JobType]Generator{models.JobTypeInsights: gen})
	call := f.createCall(t, testOwner, "original transcript")

	_, err := f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	require.NoError(t, err)

	_, err = f.store.Calls.UpdateTranscript(ctx, call.ID, "Original transcript")
	require.NoError(t, err)

	res, err := f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	require.NoError(t, err)
	assert.False(t, res.Cached, "case change alters the hash")
	assert.Equal(t, 2, gen.Calls())
}

func TestOrchestrator_Enrich_ForceRegenerateReplacesEntry(t *testing.T) {
	ctx := context.Background()

	version := 0
	gen := &fakeGenerator{fn: func(_ context.Context, _ GenerateInput) (*GenerateOutput, error) {
		version++

		return &GenerateOutput{Model: "gpt-test", ModelVersion: strings.Repeat("v", version), Artifact: json.RawMessage(`{}`)}, nil
	}}
	f := newFixture(t, map[models.JobType]Generator{models.JobTypeInsights: gen})
	call := f.createCall(t, testOwner, "same text")

	_, err := f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	require.NoError(t, err)

	req := insightsRequest(call.ID)
	req.ForceRegenerate = true

	res, err := f.orch.Enrich(ctx, testOwner, req)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 2, gen.Calls())

	entry, err := f.store.Cache.Latest(ctx, call.ID, models.ContentTypeTranscriptForInsights)
	require.NoError(t, err)
	assert.Equal(t, "vv", entry.ModelVersion, "one entry, replaced by the forced run")
}

func TestOrchestrator_Enrich_DuplicateActiveJob(t *testing.T) {
	ctx := context.Background()
	gen := insightsGenerator("gpt-test")
	f := newFixture(t, map[models.JobType]Generator{models.JobTypeInsights: gen})
	f.orch.SetDispatcher(noopDispatcher{})
	call := f.createCall(t, testOwner, "transcript")

	first, err := f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, first.Status)

	_, err = f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	require.ErrorIs(t, err, huberrors.ErrDuplicateActiveJob)

	var dup *huberrors.DuplicateActiveJobError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.JobID, dup.ActiveJobID)

	_, err = f.orch.Enrich(ctx, testOwner, models.EnrichRequest{CallID: call.ID, JobType: models.JobTypeEmbedding})
	assert.NoError(t, err, "other job types run independently")

	jobs, err := f.store.Jobs.ListByCall(ctx, call.ID)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
	assert.Zero(t, gen.Calls())
}

func TestOrchestrator_Enrich_BoundaryErrorsCreateNoJob(t *testing.T) {
	ctx := context.Background()
	gen := insightsGenerator("gpt-test")
	f := newFixture(t, map[models.JobType]Generator{models.JobTypeInsights: gen})
	call := f.createCall(t, testOwner, "transcript")
	tooShort := f.createCall(t, testOwner, "  [too short] ")

	tests := []struct {
		name   string
		caller string
		req    models.EnrichRequest
		want   error
	}{
		{"unknown call", testOwner, insightsRequest(uuid.New()), huberrors.ErrEntityNotFound},
		{"other owner", "owner-2", insightsRequest(call.ID), huberrors.ErrAccessDenied},
		{"too short transcript", testOwner, insightsRequest(tooShort.ID), huberrors.ErrEmptyContent},
		{"no audio for transcription", testOwner, models.EnrichRequest{CallID: call.ID, JobType: models.JobTypeTranscription}, huberrors.ErrEmptyContent},
		{"unknown job type", testOwner, models.EnrichRequest{CallID: call.ID, JobType: "ocr"}, huberrors.ErrValidation},
		{
			"mismatched content type", testOwner,
			models.EnrichRequest{CallID: call.ID, JobType: models.JobTypeInsights, ContentType: models.ContentTypeTranscriptForEmbedding},
			huberrors.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orch.Enrich(ctx, tt.caller, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	all, err := f.store.Jobs.ListActive(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all)

	for _, id := range []uuid.UUID{call.ID, tooShort.ID} {
		jobs, err := f.store.Jobs.ListByCall(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, jobs)
	}

	assert.Zero(t, gen.Calls())
}

func TestOrchestrator_Enrich_DispatchFailureFailsJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[models.JobType]Generator{models.JobTypeInsights: insightsGenerator("m")})
	f.orch.SetDispatcher(failingDispatcher{err: errors.New("queue unavailable")})
	call := f.createCall(t, testOwner, "transcript")

	_, err := f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue unavailable")

	jobs, err := f.store.Jobs.ListByCall(ctx, call.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobStatusFailed, jobs[0].Status)
	require.NotNil(t, jobs[0].Error)
	assert.Contains(t, *jobs[0].Error, "dispatch")

	f.orch.SetDispatcher(noopDispatcher{})

	_, err = f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	assert.NoError(t, err, "failed job frees the active slot")
}

func TestOrchestrator_Process_StatusSequenceIsMonotonic(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{fn: func(_ context.Context, in GenerateInput) (*GenerateOutput, error) {
		in.Progress.report(models.JobProgress{Progress: 50, Message: "half way"})
		in.Progress.report(models.JobProgress{Progress: 150})

		return &GenerateOutput{Model: "m", Artifact: json.RawMessage(`{}`)}, nil
	}}
	f := newFixture(t, map[models.JobType]Generator{models.JobTypeInsights: gen})
	call := f.createCall(t, testOwner, "transcript")

	res, err := f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	require.NoError(t, err)

	events := f.events.forJob(res.JobID)
	require.NotEmpty(t, events)

	rank := map[models.JobStatus]int{
		models.JobStatusPending:    0,
		models.JobStatusProcessing: 1,
		models.JobStatusCompleted:  2,
		models.JobStatusFailed:     2,
	}

	last := -1
	lastProgress := -1

	for _, e := range events {
		assert.GreaterOrEqual(t, rank[e.Job.Status], last, "status went backwards at %s", e.Type)
		last = rank[e.Job.Status]

		assert.GreaterOrEqual(t, e.Job.Progress.Progress, lastProgress)
		lastProgress = e.Job.Progress.Progress

		if e.Type == JobEventProgress && e.Job.Progress.Stage == models.StageGenerating {
			assert.Less(t, e.Job.Progress.Progress, progressStoring, "generator progress is clamped")
		}
	}

	assert.Equal(t, JobEventCreated, events[0].Type)
	assert.Equal(t, JobEventCompleted, events[len(events)-1].Type)
	assert.Equal(t, 100, f.job(t, res.JobID).Progress.Progress)
}

func TestOrchestrator_Process_CapabilityTimeout(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{fn: func(ctx context.Context, _ GenerateInput) (*GenerateOutput, error) {
		<-ctx.Done()

		return nil, ctx.Err()
	}}
	f := newFixture(t, map[models.JobType]Generator{models.JobTypeInsights: gen}, withTimeout(20*time.Millisecond))
	call := f.createCall(t, testOwner, "transcript")

	res, err := f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	require.NoError(t, err)

	job := f.job(t, res.JobID)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.True(t, strings.HasPrefix(*job.Error, "timeout"), *job.Error)

	_, err = f.store.Cache.Latest(ctx, call.ID, models.ContentTypeTranscriptForInsights)
	assert.ErrorIs(t, err, ErrCacheMiss, "no artifact is written on failure")
}

func TestOrchestrator_Process_CapabilityErrorFailsJob(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{fn: func(_ context.Context, _ GenerateInput) (*GenerateOutput, error) {
		return nil, huberrors.NewExternalCapabilityError("insights", false, errors.New("invalid api key"))
	}}
	f := newFixture(t, map[models.JobType]Generator{models.JobTypeInsights: gen})
	call := f.createCall(t, testOwner, "transcript")

	res, err := f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	require.NoError(t, err, "capability failures surface on the job, not the request")

	job := f.job(t, res.JobID)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "invalid api key")
	assert.NotNil(t, job.CompletedAt)

	failed := f.events.forJob(res.JobID)
	assert.Equal(t, JobEventFailed, failed[len(failed)-1].Type)
}

func TestOrchestrator_Process_RecordCostFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[models.JobType]Generator{models.JobTypeInsights: insightsGenerator("m")},
		withCache(func(c EnrichmentCache) EnrichmentCache { return costFailingCache{c} }))
	call := f.createCall(t, testOwner, "transcript")

	first, err := f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, f.job(t, first.JobID).Status)

	second, err := f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	require.NoError(t, err)
	assert.True(t, second.Cached)
}

func TestOrchestrator_Enrich_CacheBackendErrorIsAMiss(t *testing.T) {
	ctx := context.Background()
	gen := insightsGenerator("m")
	f := newFixture(t, map[models.JobType]Generator{models.JobTypeInsights: gen},
		withCache(func(c EnrichmentCache) EnrichmentCache { return lookupFailingCache{c} }))
	call := f.createCall(t, testOwner, "transcript")

	res, err := f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, models.JobStatusCompleted, f.job(t, res.JobID).Status)
	assert.Equal(t, 1, gen.Calls())
}

func TestOrchestrator_Process_TranscriptionWritesBack(t *testing.T) {
	ctx := context.Background()
	audio := "https://recordings.example.com/call-1.mp3"

	var gotText string

	transcriber := &fakeGenerator{fn: func(_ context.Context, in GenerateInput) (*GenerateOutput, error) {
		gotText = in.Text
		artifact, _ := json.Marshal(models.Transcription{Text: "hello from the call", Language: "en"})

		return &GenerateOutput{Model: "whisper-1", Artifact: artifact}, nil
	}}
	f := newFixture(t, map[models.JobType]Generator{
		models.JobTypeTranscription: transcriber,
		models.JobTypeInsights:      insightsGenerator("m"),
	})

	call, err := f.store.Calls.Create(ctx, testOwner, &models.CreateCallRequest{Title: "audio only", AudioURL: &audio})
	require.NoError(t, err)

	_, err = f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	require.ErrorIs(t, err, huberrors.ErrEmptyContent, "no transcript yet")

	res, err := f.orch.Enrich(ctx, testOwner, models.EnrichRequest{CallID: call.ID, JobType: models.JobTypeTranscription})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, f.job(t, res.JobID).Status)
	assert.Equal(t, audio, gotText, "transcription hashes the audio reference")

	updated, err := f.store.Calls.GetByID(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello from the call", updated.Transcript)
	assert.Equal(t, models.TranscriptionStatusCompleted, updated.TranscriptionStatus)

	_, err = f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	assert.NoError(t, err)
}

func TestOrchestrator_Process_ForcedRetranscriptionKeepsEditedTranscript(t *testing.T) {
	ctx := context.Background()
	audio := "https://recordings.example.com/call-2.mp3"

	transcriber := &fakeGenerator{fn: func(_ context.Context, _ GenerateInput) (*GenerateOutput, error) {
		artifact, _ := json.Marshal(models.Transcription{Text: "machine transcript"})

		return &GenerateOutput{Model: "whisper-1", Artifact: artifact}, nil
	}}
	f := newFixture(t, map[models.JobType]Generator{models.JobTypeTranscription: transcriber})

	call, err := f.store.Calls.Create(ctx, testOwner, &models.CreateCallRequest{Title: "audio only", AudioURL: &audio})
	require.NoError(t, err)

	req := models.EnrichRequest{CallID: call.ID, JobType: models.JobTypeTranscription}

	_, err = f.orch.Enrich(ctx, testOwner, req)
	require.NoError(t, err)

	_, err = f.store.Calls.UpdateTranscript(ctx, call.ID, "human corrected transcript")
	require.NoError(t, err)

	req.ForceRegenerate = true
	res, err := f.orch.Enrich(ctx, testOwner, req)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, f.job(t, res.JobID).Status)
	assert.Equal(t, 2, transcriber.Calls())

	got, err := f.store.Calls.GetByID(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, "human corrected transcript", got.Transcript)
	assert.Equal(t, 1, got.EditCount)

	entry, err := f.store.Cache.Latest(ctx, call.ID, models.ContentTypeAudioForTranscription)
	require.NoError(t, err)
	assert.Contains(t, string(entry.Artifact), "machine transcript", "the regenerated artifact is still cached")
}

func TestOrchestrator_Process_InsightsAfterEmbeddingRefreshFilters(t *testing.T) {
	ctx := context.Background()

	embedder := &fakeGenerator{fn: func(_ context.Context, _ GenerateInput) (*GenerateOutput, error) {
		return &GenerateOutput{
			Model:     testEmbeddingModel,
			Artifact:  json.RawMessage(`{"dimensions":2}`),
			Embedding: []float32{1, 0},
			Metadata:  &models.EmbeddingMetadata{},
		}, nil
	}}
	insights := &fakeGenerator{fn: func(_ context.Context, _ GenerateInput) (*GenerateOutput, error) {
		artifact, _ := json.Marshal(models.CallInsights{
			Summary:   "customer threatened to cancel",
			Sentiment: models.SentimentNegative,
			RedFlags:  []string{"cancellation threat"},
		})

		return &GenerateOutput{Model: "gpt-test", Artifact: artifact}, nil
	}}

	f := newFixture(t, map[models.JobType]Generator{
		models.JobTypeEmbedding: embedder,
		models.JobTypeInsights:  insights,
	})
	call := f.createCall(t, testOwner, "I want to cancel my subscription.")

	searcher := NewSearchService(SearchServiceParams{
		Embedder:   &fakeEmbedder{vector: []float32{1, 0}},
		Candidates: f.store.Cache,
		Cache:      f.store.Cache,
		Calls:      f.store.Calls,
		Model:      testEmbeddingModel,
	})
	negativeWithRedFlags := SearchRequest{
		Query:   "cancellations",
		Filters: models.SearchFilters{Sentiments: []string{models.SentimentNegative}, HasRedFlags: ptr(true)},
	}

	_, err := f.orch.Enrich(ctx, testOwner, models.EnrichRequest{CallID: call.ID, JobType: models.JobTypeEmbedding})
	require.NoError(t, err)

	res, err := searcher.Search(ctx, testOwner, negativeWithRedFlags)
	require.NoError(t, err)
	assert.Empty(t, res.Results, "no insights yet")

	_, err = f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	require.NoError(t, err)

	res, err = searcher.Search(ctx, testOwner, negativeWithRedFlags)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, call.ID, res.Results[0].EntityID)

	entry, err := f.store.Cache.Latest(ctx, call.ID, models.ContentTypeTranscriptForEmbedding)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, entry.Embedding)
	assert.False(t, entry.Metadata.HasActionItems)
	assert.Equal(t, 1, embedder.Calls(), "refresh does not re-embed")
}

func TestOrchestrator_Process_SkipsNonPendingJob(t *testing.T) {
	ctx := context.Background()
	gen := insightsGenerator("m")
	f := newFixture(t, map[models.JobType]Generator{models.JobTypeInsights: gen})
	call := f.createCall(t, testOwner, "transcript")

	res, err := f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	require.NoError(t, err)

	require.NoError(t, f.orch.Process(ctx, res.JobID), "redelivery of a finished job is a no-op")
	assert.Equal(t, 1, gen.Calls())
}

func TestOrchestrator_FailStaleJobs(t *testing.T) {
	ctx := context.Background()
	gen := insightsGenerator("m")
	f := newFixture(t, map[models.JobType]Generator{models.JobTypeInsights: gen})
	f.orch.SetDispatcher(noopDispatcher{})
	call := f.createCall(t, testOwner, "transcript")

	res, err := f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	require.NoError(t, err)

	n, err := f.orch.FailStaleJobs(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n, "fresh jobs are left alone")

	time.Sleep(5 * time.Millisecond)

	n, err = f.orch.FailStaleJobs(ctx, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job := f.job(t, res.JobID)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, staleJobMessage, *job.Error)

	require.NoError(t, f.orch.Process(ctx, res.JobID), "late worker skips the swept job")
	assert.Zero(t, gen.Calls())
}

func TestOrchestrator_FailJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[models.JobType]Generator{models.JobTypeInsights: insightsGenerator("m")})
	f.orch.SetDispatcher(noopDispatcher{})
	call := f.createCall(t, testOwner, "transcript")

	res, err := f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	require.NoError(t, err)

	require.NoError(t, f.orch.FailJob(ctx, res.JobID, "worker panic: boom"))

	job := f.job(t, res.JobID)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, "worker panic: boom", *job.Error)

	statuses := []JobEventType{}
	for _, e := range f.events.forJob(res.JobID) {
		statuses = append(statuses, e.Type)
	}

	assert.Equal(t, []JobEventType{JobEventCreated, JobEventFailed}, statuses)

	err = f.orch.FailJob(ctx, res.JobID, "again")
	require.ErrorIs(t, err, huberrors.ErrInvalidTransition)

	err = f.orch.FailJob(ctx, uuid.New(), "missing")
	require.ErrorIs(t, err, huberrors.ErrEntityNotFound)
}

func TestOrchestrator_JobQueries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[models.JobType]Generator{models.JobTypeInsights: insightsGenerator("m")})
	f.orch.SetDispatcher(noopDispatcher{})
	call := f.createCall(t, testOwner, "transcript")

	res, err := f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	require.NoError(t, err)

	job, err := f.orch.GetJob(ctx, testOwner, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)

	_, err = f.orch.GetJob(ctx, "owner-2", res.JobID)
	assert.ErrorIs(t, err, huberrors.ErrAccessDenied)

	_, err = f.orch.GetJob(ctx, testOwner, uuid.New())
	assert.ErrorIs(t, err, huberrors.ErrEntityNotFound)

	active, err := f.orch.ListJobs(ctx, testOwner, models.ListJobsFilters{})
	require.NoError(t, err)
	assert.Len(t, active, 1)

	other, err := f.orch.ListJobs(ctx, "owner-2", models.ListJobsFilters{Status: "active"})
	require.NoError(t, err)
	assert.Empty(t, other)

	completed, err := f.orch.ListJobs(ctx, testOwner, models.ListJobsFilters{Status: "completed"})
	require.NoError(t, err)
	assert.Empty(t, completed)

	history, err := f.orch.ListJobsForCall(ctx, testOwner, call.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	_, err = f.orch.ListJobsForCall(ctx, "owner-2", call.ID)
	assert.ErrorIs(t, err, huberrors.ErrAccessDenied)
}

func TestOrchestrator_AsyncDispatch(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	gen := &fakeGenerator{fn: func(_ context.Context, _ GenerateInput) (*GenerateOutput, error) {
		<-release

		return &GenerateOutput{Model: "m", Artifact: json.RawMessage(`{}`)}, nil
	}}
	f := newFixture(t, map[models.JobType]Generator{models.JobTypeInsights: gen})
	dispatcher := NewInlineDispatcher(f.orch, true, nil)
	f.orch.SetDispatcher(dispatcher)
	call := f.createCall(t, testOwner, "transcript")

	reqCtx, cancel := context.WithCancel(ctx)
	res, err := f.orch.Enrich(reqCtx, testOwner, insightsRequest(call.ID))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, res.Status)
	cancel()

	_, err = f.orch.Enrich(ctx, testOwner, insightsRequest(call.ID))
	assert.ErrorIs(t, err, huberrors.ErrDuplicateActiveJob, "job still running")

	close(release)
	dispatcher.Wait()

	assert.Equal(t, models.JobStatusCompleted, f.job(t, res.JobID).Status, "request cancellation does not abort the job")
}
