package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/callinsights/hub/internal/models"
)

// CallStore persists calls. Implemented by repository.CallsRepository and memstore.Calls.
type CallStore interface {
	Create(ctx context.Context, ownerID string, req *models.CreateCallRequest) (*models.Call, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Call, error)
	// UpdateTranscript replaces the transcript and increments edit_count.
	UpdateTranscript(ctx context.Context, id uuid.UUID, transcript string) (*models.Call, error)
	// CompleteTranscription writes a generated transcript back and marks transcription completed.
	// It is a no-op returning false once transcription is completed, so a regenerated transcript
	// never replaces an edited one.
	CompleteTranscription(ctx context.Context, id uuid.UUID, t models.Transcription) (bool, error)
}

// JobStore is the durable record of enrichment jobs.
// Implementations enforce at most one pending/processing job per (call, job type) at the storage
// boundary and check the current status before every transition.
type JobStore interface {
	// Create inserts a pending job. Returns DuplicateActiveJobError when one is already active.
	Create(ctx context.Context, callID uuid.UUID, jobType models.JobType) (*models.Job, error)
	// CreateCached inserts a job that is already completed with cached=true (cache-hit audit row).
	CreateCached(ctx context.Context, callID uuid.UUID, jobType models.JobType) (*models.Job, error)
	// Transition moves a job to status `to`. Returns InvalidTransitionError when the job is not in
	// to.PreviousStatus().
	Transition(ctx context.Context, id uuid.UUID, to models.JobStatus, update models.JobUpdate) (*models.Job, error)
	// UpdateProgress writes advisory progress on a processing job.
	UpdateProgress(ctx context.Context, id uuid.UUID, progress models.JobProgress) error
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListByCall(ctx context.Context, callID uuid.UUID) ([]models.Job, error)
	// ListActive returns pending and processing jobs for calls owned by ownerID ("" for all owners).
	ListActive(ctx context.Context, ownerID string) ([]models.Job, error)
	ListByStatus(ctx context.Context, ownerID string, status models.JobStatus) ([]models.Job, error)
	// ListStale returns active jobs created before cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]models.Job, error)
}

// CandidateSource returns the stored embeddings a caller may search.
// Implementations may push filters down; the search engine re-applies them.
type CandidateSource interface {
	ListCandidates(ctx context.Context, ownerID, model string, filters models.SearchFilters) ([]models.EmbeddingRecord, error)
}

// EmbeddingClient turns transcripts and search queries into vectors. Implemented by the OpenAI,
// Gemini and mock clients.
type EmbeddingClient interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}
