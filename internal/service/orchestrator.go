package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/callinsights/hub/internal/contenthash"
	"github.com/callinsights/hub/internal/huberrors"
	"github.com/callinsights/hub/internal/models"
	"github.com/callinsights/hub/internal/observability"
)

const (
	defaultCapabilityTimeout = 120 * time.Second
	progressGenerating       = 10
	progressStoring          = 90
	progressDone             = 100
	staleJobMessage          = "stale: worker did not finish"
)

// JobDispatcher hands a pending job to whatever runs Process (River in production).
type JobDispatcher interface {
	Dispatch(ctx context.Context, job *models.Job) error
}

// Orchestrator turns enrich requests into jobs, consults the enrichment cache, invokes the
// external generators and writes results back. It is the only writer of jobs and cache entries.
type Orchestrator struct {
	calls      CallStore
	jobs       JobStore
	cache      EnrichmentCache
	generators map[models.JobType]Generator
	dispatcher JobDispatcher
	events     JobEventPublisher
	metrics    observability.EnrichmentMetrics
	timeout    time.Duration
	logger     *slog.Logger
}

// OrchestratorParams configures an Orchestrator. Events, Metrics and Logger are optional.
// Dispatcher may be set later with SetDispatcher (River workers need the orchestrator first).
type OrchestratorParams struct {
	Calls             CallStore
	Jobs              JobStore
	Cache             EnrichmentCache
	Generators        map[models.JobType]Generator
	Dispatcher        JobDispatcher
	Events            JobEventPublisher
	Metrics           observability.EnrichmentMetrics
	CapabilityTimeout time.Duration
	Logger            *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(p OrchestratorParams) *Orchestrator {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	timeout := p.CapabilityTimeout
	if timeout <= 0 {
		timeout = defaultCapabilityTimeout
	}

	return &Orchestrator{
		calls:      p.Calls,
		jobs:       p.Jobs,
		cache:      p.Cache,
		generators: p.Generators,
		dispatcher: p.Dispatcher,
		events:     p.Events,
		metrics:    p.Metrics,
		timeout:    timeout,
		logger:     logger,
	}
}

// SetDispatcher sets the job dispatcher. Must only be called during startup.
func (o *Orchestrator) SetDispatcher(d JobDispatcher) {
	o.dispatcher = d
}

// Enrich accepts an enrichment request for a call owned by caller.
// Boundary errors (not found, access denied, empty content, duplicate active job, validation)
// are returned synchronously and never create a job. A cache hit returns a completed, cached
// job without invoking any capability. Otherwise a pending job is created and dispatched.
func (o *Orchestrator) Enrich(ctx context.Context, caller string, req models.EnrichRequest) (*models.EnrichResult, error) {
	contentType, err := resolveContentType(req.JobType, req.ContentType)
	if err != nil {
		o.recordRequest(ctx, req.JobType, "rejected")

		return nil, err
	}

	call, err := o.ownedCall(ctx, caller, req.CallID)
	if err != nil {
		o.recordRequest(ctx, req.JobType, "rejected")

		return nil, err
	}

	hash, err := contenthash.Hash(hashedContent(call, req.JobType), contentType)
	if err != nil {
		o.recordRequest(ctx, req.JobType, "rejected")

		return nil, err
	}

	if !req.ForceRegenerate {
		result, hit, err := o.serveFromCache(ctx, call, req.JobType, contentType, hash)
		if err != nil {
			return nil, err
		}

		if hit {
			o.recordRequest(ctx, req.JobType, "cached")

			return result, nil
		}
	}

	job, err := o.jobs.Create(ctx, call.ID, req.JobType)
	if err != nil {
		if errors.Is(err, huberrors.ErrDuplicateActiveJob) {
			o.recordRequest(ctx, req.JobType, "duplicate")

			return nil, err
		}

		return nil, fmt.Errorf("create job: %w", err)
	}

	o.publish(ctx, JobEventCreated, job)

	if o.dispatcher == nil {
		return nil, o.abortJob(ctx, job, errors.New("no job dispatcher configured"))
	}

	if err := o.dispatcher.Dispatch(ctx, job); err != nil {
		return nil, o.abortJob(ctx, job, err)
	}

	o.recordRequest(ctx, req.JobType, "queued")

	o.logger.InfoContext(ctx, "enrichment job queued",
		"job_id", job.ID, "call_id", call.ID, "job_type", req.JobType,
		"content_type", contentType, "force_regenerate", req.ForceRegenerate)

	return &models.EnrichResult{JobID: job.ID, Status: job.Status, Cached: false}, nil
}

// serveFromCache returns hit=false on a miss. Backend errors are logged and treated as a miss
// so a cache outage degrades to recomputation rather than failing enrich requests.
func (o *Orchestrator) serveFromCache(
	ctx context.Context, call *models.Call, jobType models.JobType, contentType models.ContentType, hash string,
) (*models.EnrichResult, bool, error) {
	entry, err := o.cache.Lookup(ctx, call.ID, contentType, hash)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			o.logger.WarnContext(ctx, "enrichment cache lookup failed, treating as miss",
				"call_id", call.ID, "content_type", contentType, "error", err)
		}

		return nil, false, nil
	}

	job, err := o.jobs.CreateCached(ctx, call.ID, jobType)
	if err != nil {
		return nil, false, fmt.Errorf("record cached job: %w", err)
	}

	o.recordCost(ctx, models.UsageRecord{
		CallID:  call.ID,
		JobID:   &job.ID,
		JobType: jobType,
		Model:   entry.Model,
		Cached:  true,
	})

	o.publish(ctx, JobEventCompleted, job)

	o.logger.InfoContext(ctx, "enrichment served from cache",
		"job_id", job.ID, "call_id", call.ID, "job_type", jobType, "content_type", contentType)

	return &models.EnrichResult{
		JobID:       job.ID,
		Status:      job.Status,
		Cached:      true,
		ArtifactRef: entry.Ref(),
	}, true, nil
}

// abortJob fails a job that could not be dispatched, going through processing so the observed
// status sequence stays a prefix of pending, processing, failed.
func (o *Orchestrator) abortJob(ctx context.Context, job *models.Job, cause error) error {
	ctx = context.WithoutCancel(ctx)

	o.logger.ErrorContext(ctx, "dispatch enrichment job failed",
		"job_id", job.ID, "call_id", job.CallID, "job_type", job.Type, "error", cause)
	o.recordCapabilityError(ctx, job.Type, "dispatch_failed")

	if _, err := o.jobs.Transition(ctx, job.ID, models.JobStatusProcessing, models.JobUpdate{}); err != nil {
		return fmt.Errorf("dispatch job: %w (mark processing: %w)", cause, err)
	}

	o.fail(ctx, job.ID, job.Type, "dispatch: "+cause.Error())

	return fmt.Errorf("dispatch job: %w", cause)
}

// Process runs a dispatched job: processing, generation under the capability timeout, cache
// write, cost record, and the terminal transition. Capability and storage failures end in the
// job's failed state and are not returned; the returned error is only for job store failures.
// A job that is already terminal is skipped.
func (o *Orchestrator) Process(ctx context.Context, jobID uuid.UUID) error {
	ctx = observability.WithJobID(ctx, jobID)

	job, err := o.jobs.Transition(ctx, jobID, models.JobStatusProcessing, models.JobUpdate{
		Progress: &models.JobProgress{Stage: models.StageGenerating, Progress: progressGenerating},
	})
	if err != nil {
		if errors.Is(err, huberrors.ErrInvalidTransition) {
			o.logger.WarnContext(ctx, "job not pending, skipping", "error", err)

			return nil
		}

		return fmt.Errorf("mark job processing: %w", err)
	}

	o.publish(ctx, JobEventProcessing, job)

	ctx = observability.WithLogAttrs(ctx, slog.String("call_id", job.CallID.String()), slog.String("job_type", string(job.Type)))
	started := time.Now()
	ctx, endSpan := observability.StartJobSpan(ctx, job.ID, job.CallID, string(job.Type))

	outcome := o.run(ctx, job)
	if outcome == string(models.JobStatusFailed) {
		endSpan("job failed")
	} else {
		endSpan("")
	}

	if o.metrics != nil {
		o.metrics.RecordJobOutcome(ctx, string(job.Type), outcome, time.Since(started))
	}

	return nil
}

// run returns the terminal outcome ("completed" or "failed").
func (o *Orchestrator) run(ctx context.Context, job *models.Job) string {
	call, err := o.calls.GetByID(ctx, job.CallID)
	if err != nil {
		return o.fail(ctx, job.ID, job.Type, "load call: "+err.Error())
	}

	contentType := job.Type.DefaultContentType()
	text := hashedContent(call, job.Type)

	hash, err := contenthash.Hash(text, contentType)
	if err != nil {
		o.recordCapabilityError(ctx, job.Type, "empty_content")

		return o.fail(ctx, job.ID, job.Type, err.Error())
	}

	gen, ok := o.generators[job.Type]
	if !ok {
		return o.fail(ctx, job.ID, job.Type, fmt.Sprintf("no generator configured for %s", job.Type))
	}

	genCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	out, err := gen.Generate(genCtx, GenerateInput{
		Call:        call,
		JobType:     job.Type,
		ContentType: contentType,
		Text:        text,
		ContentHash: hash,
		Progress:    o.progressReporter(ctx, job),
	})
	if err != nil {
		timedOut := errors.Is(genCtx.Err(), context.DeadlineExceeded)

		return o.fail(ctx, job.ID, job.Type, o.capabilityFailure(ctx, job.Type, timedOut, err))
	}

	o.updateProgress(ctx, job, models.JobProgress{Stage: models.StageStoring, Progress: progressStoring})

	entry := &models.CacheEntry{
		CallID:       call.ID,
		ContentType:  contentType,
		Model:        out.Model,
		ModelVersion: out.ModelVersion,
		ContentHash:  hash,
		Artifact:     out.Artifact,
		Embedding:    out.Embedding,
		Metadata:     out.Metadata,
		Usage:        out.Usage,
		GeneratedAt:  time.Now().UTC(),
	}

	if err := o.cache.Upsert(ctx, entry); err != nil {
		o.recordCapabilityError(ctx, job.Type, "store_failed")

		return o.fail(ctx, job.ID, job.Type, "store artifact: "+err.Error())
	}

	if job.Type == models.JobTypeInsights || job.Type == models.JobTypeEmbedding {
		o.syncEmbeddingFilters(ctx, call.ID)
	}

	if job.Type == models.JobTypeTranscription {
		if err := o.writeBackTranscript(ctx, call.ID, out.Artifact); err != nil {
			o.recordCapabilityError(ctx, job.Type, "store_failed")

			return o.fail(ctx, job.ID, job.Type, "store transcript: "+err.Error())
		}
	}

	o.recordCost(ctx, models.UsageRecord{
		CallID:     call.ID,
		JobID:      &job.ID,
		JobType:    job.Type,
		Model:      out.Model,
		TokenCount: out.Usage.TotalTokens(),
		CostUSD:    out.Usage.CostUSD,
	})

	done, err := o.jobs.Transition(ctx, job.ID, models.JobStatusCompleted, models.JobUpdate{
		Progress: &models.JobProgress{Stage: models.StageDone, Progress: progressDone},
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "mark job completed failed", "error", err)

		return o.fail(ctx, job.ID, job.Type, "mark completed: "+err.Error())
	}

	o.publish(ctx, JobEventCompleted, done)

	o.logger.InfoContext(ctx, "enrichment job completed", "model", out.Model,
		"tokens", out.Usage.TotalTokens(), "cost_usd", out.Usage.CostUSD)

	return string(models.JobStatusCompleted)
}

// syncEmbeddingFilters copies the latest insights onto the call's embedding metadata. It runs after
// both insights and embedding jobs store their artifact, so either completion order converges.
// Failures are logged; the stored artifact stays valid.
func (o *Orchestrator) syncEmbeddingFilters(ctx context.Context, callID uuid.UUID) {
	entry, err := o.cache.Latest(ctx, callID, models.ContentTypeTranscriptForInsights)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			o.logger.WarnContext(ctx, "load insights for embedding metadata failed", "error", err)
		}

		return
	}

	var insights models.CallInsights
	if err := json.Unmarshal(entry.Artifact, &insights); err != nil {
		o.logger.WarnContext(ctx, "decode insights for embedding metadata failed", "error", err)

		return
	}

	if err := o.cache.RefreshInsightsFilters(ctx, callID, models.FiltersFromInsights(insights)); err != nil {
		o.logger.WarnContext(ctx, "refresh embedding metadata failed", "error", err)
	}
}

func (o *Orchestrator) writeBackTranscript(ctx context.Context, callID uuid.UUID, artifact json.RawMessage) error {
	var t models.Transcription
	if err := json.Unmarshal(artifact, &t); err != nil {
		return fmt.Errorf("decode transcription: %w", err)
	}

	applied, err := o.calls.CompleteTranscription(ctx, callID, t)
	if err != nil {
		return err
	}

	if !applied {
		o.logger.InfoContext(ctx, "call already has a transcript, kept it; new transcription stored in cache only")
	}

	return nil
}

// capabilityFailure classifies err for metrics and returns the job's error message.
// A deadline hit on the capability context is reported as a timeout.
func (o *Orchestrator) capabilityFailure(ctx context.Context, jobType models.JobType, timedOut bool, err error) string {
	reason := "permanent"

	var capErr *huberrors.ExternalCapabilityError

	switch {
	case timedOut || errors.Is(err, context.DeadlineExceeded):
		reason = "timeout"
		err = fmt.Errorf("timeout: capability did not respond within %s: %w", o.timeout, err)
	case errors.As(err, &capErr) && capErr.Transient:
		reason = "transient"
	}

	o.recordCapabilityError(ctx, jobType, reason)

	return err.Error()
}

// fail transitions the job to failed and returns the "failed" outcome.
// It writes with a context detached from cancellation so a timed-out job still records its failure.
func (o *Orchestrator) fail(ctx context.Context, jobID uuid.UUID, jobType models.JobType, message string) string {
	ctx = context.WithoutCancel(ctx)

	job, err := o.jobs.Transition(ctx, jobID, models.JobStatusFailed, models.JobUpdate{Error: &message})
	if err != nil {
		o.logger.ErrorContext(ctx, "mark job failed failed", "job_type", jobType, "error", err, "job_error", message)

		return string(models.JobStatusFailed)
	}

	o.publish(ctx, JobEventFailed, job)

	o.logger.WarnContext(ctx, "enrichment job failed",
		"call_id", job.CallID, "job_type", jobType, "error", message)

	return string(models.JobStatusFailed)
}

func (o *Orchestrator) progressReporter(ctx context.Context, job *models.Job) ProgressFunc {
	return func(p models.JobProgress) {
		// Generator progress stays inside the generating band.
		p.Progress = min(max(p.Progress, progressGenerating), progressStoring-1)
		if p.Stage == "" {
			p.Stage = models.StageGenerating
		}

		o.updateProgress(ctx, job, p)
	}
}

// updateProgress is advisory: failures are logged and ignored.
func (o *Orchestrator) updateProgress(ctx context.Context, job *models.Job, p models.JobProgress) {
	if err := o.jobs.UpdateProgress(ctx, job.ID, p); err != nil {
		o.logger.DebugContext(ctx, "progress update skipped", "error", err)

		return
	}

	snapshot := *job
	snapshot.Progress = p
	o.publish(ctx, JobEventProgress, &snapshot)
}

// recordCost never fails the enrichment.
func (o *Orchestrator) recordCost(ctx context.Context, usage models.UsageRecord) {
	usage.CreatedAt = time.Now().UTC()

	if err := o.cache.RecordCost(context.WithoutCancel(ctx), usage); err != nil {
		o.logger.WarnContext(ctx, "record enrichment cost failed",
			"call_id", usage.CallID, "job_type", usage.JobType, "cached", usage.Cached, "error", err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, eventType JobEventType, job *models.Job) {
	if o.events != nil && job != nil {
		o.events.Publish(ctx, eventType, *job)
	}
}

func (o *Orchestrator) recordRequest(ctx context.Context, jobType models.JobType, outcome string) {
	if o.metrics != nil {
		o.metrics.RecordRequest(ctx, string(jobType), outcome)
	}
}

func (o *Orchestrator) recordCapabilityError(ctx context.Context, jobType models.JobType, reason string) {
	if o.metrics != nil {
		o.metrics.RecordCapabilityError(ctx, string(jobType), reason)
	}
}

// GetJob returns a job for a call owned by caller.
func (o *Orchestrator) GetJob(ctx context.Context, caller string, id uuid.UUID) (*models.Job, error) {
	job, err := o.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if _, err := o.ownedCall(ctx, caller, job.CallID); err != nil {
		if errors.Is(err, huberrors.ErrAccessDenied) {
			return nil, huberrors.NewAccessDeniedError("job", id.String())
		}

		return nil, err
	}

	return job, nil
}

// ListJobsForCall returns every job (history included) for a call owned by caller.
func (o *Orchestrator) ListJobsForCall(ctx context.Context, caller string, callID uuid.UUID) ([]models.Job, error) {
	if _, err := o.ownedCall(ctx, caller, callID); err != nil {
		return nil, err
	}

	jobs, err := o.jobs.ListByCall(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("list jobs for call: %w", err)
	}

	return jobs, nil
}

// ListJobs returns the caller's jobs filtered by status. An empty status or "active" lists
// pending and processing jobs, which is what pollers use to decide whether to keep polling.
func (o *Orchestrator) ListJobs(ctx context.Context, caller string, filters models.ListJobsFilters) ([]models.Job, error) {
	var (
		jobs []models.Job
		err  error
	)

	switch filters.Status {
	case "", "active":
		jobs, err = o.jobs.ListActive(ctx, caller)
	default:
		jobs, err = o.jobs.ListByStatus(ctx, caller, models.JobStatus(filters.Status))
	}

	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	return jobs, nil
}

// FailStaleJobs fails jobs that stayed pending or processing longer than maxAge, e.g. after a
// worker crash. Jobs that finish concurrently are skipped. Returns the number of jobs failed.
func (o *Orchestrator) FailStaleJobs(ctx context.Context, maxAge time.Duration) (int, error) {
	stale, err := o.jobs.ListStale(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}

	failed := 0

	for i := range stale {
		if err := o.failActive(ctx, &stale[i], staleJobMessage); err != nil {
			o.logger.DebugContext(ctx, "stale job moved on, skipping", "job_id", stale[i].ID, "error", err)

			continue
		}

		failed++
	}

	if failed > 0 {
		o.logger.WarnContext(ctx, "failed stale enrichment jobs", "count", failed, "max_age", maxAge)

		if o.metrics != nil {
			o.metrics.RecordStaleJobsFailed(ctx, failed)
		}
	}

	return failed, nil
}

// FailJob fails a pending or processing job from outside the normal run, e.g. after a worker
// panic. Returns InvalidTransitionError when the job is already terminal.
func (o *Orchestrator) FailJob(ctx context.Context, jobID uuid.UUID, message string) error {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	return o.failActive(context.WithoutCancel(ctx), job, message)
}

// failActive walks an active job through processing to failed.
func (o *Orchestrator) failActive(ctx context.Context, job *models.Job, message string) error {
	if job.Status == models.JobStatusPending {
		if _, err := o.jobs.Transition(ctx, job.ID, models.JobStatusProcessing, models.JobUpdate{}); err != nil {
			return err
		}
	}

	done, err := o.jobs.Transition(ctx, job.ID, models.JobStatusFailed, models.JobUpdate{Error: &message})
	if err != nil {
		return err
	}

	o.publish(ctx, JobEventFailed, done)

	return nil
}

// ownedCall loads a call and checks that caller owns it.
func (o *Orchestrator) ownedCall(ctx context.Context, caller string, callID uuid.UUID) (*models.Call, error) {
	call, err := o.calls.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}

	if call.OwnerID != caller {
		return nil, huberrors.NewAccessDeniedError("call", callID.String())
	}

	return call, nil
}

// resolveContentType defaults the content type from the job type and rejects mismatched pairs.
func resolveContentType(jobType models.JobType, contentType models.ContentType) (models.ContentType, error) {
	if !jobType.IsValid() {
		return "", huberrors.NewValidationError("job_type", fmt.Sprintf("unknown job type %q", jobType))
	}

	want := jobType.DefaultContentType()
	if contentType == "" {
		return want, nil
	}

	if contentType != want {
		return "", huberrors.NewValidationError("content_type",
			fmt.Sprintf("content type %q does not apply to %s jobs (expected %q)", contentType, jobType, want))
	}

	return contentType, nil
}

// hashedContent is the audio reference for transcription and the transcript otherwise.
func hashedContent(call *models.Call, jobType models.JobType) string {
	if jobType == models.JobTypeTranscription {
		if call.AudioURL == nil {
			return ""
		}

		return *call.AudioURL
	}

	return call.Transcript
}
