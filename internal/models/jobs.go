package models

import (
	"time"

	"github.com/google/uuid"
)

// JobType identifies the kind of enrichment a job performs.
type JobType string

// Job types.
const (
	JobTypeTranscription JobType = "transcription"
	JobTypeInsights      JobType = "insights"
	JobTypeEmbedding     JobType = "embedding"
)

// AllJobTypes lists every supported job type.
func AllJobTypes() []JobType {
	return []JobType{JobTypeTranscription, JobTypeInsights, JobTypeEmbedding}
}

// IsValid reports whether t is a known job type.
func (t JobType) IsValid() bool {
	switch t {
	case JobTypeTranscription, JobTypeInsights, JobTypeEmbedding:
		return true
	default:
		return false
	}
}

// DefaultContentType returns the content type hashed for this job type.
func (t JobType) DefaultContentType() ContentType {
	switch t {
	case JobTypeTranscription:
		return ContentTypeAudioForTranscription
	case JobTypeInsights:
		return ContentTypeTranscriptForInsights
	case JobTypeEmbedding:
		return ContentTypeTranscriptForEmbedding
	default:
		return ""
	}
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

// Job statuses. Valid transitions: pending -> processing -> {completed, failed}.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsActive reports whether the job still holds the (call, job type) slot.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// PreviousStatus returns the only status a job may be in before moving to s.
// Returns "" for pending (jobs are created pending) and unknown statuses.
func (s JobStatus) PreviousStatus() JobStatus {
	switch s {
	case JobStatusProcessing:
		return JobStatusPending
	case JobStatusCompleted, JobStatusFailed:
		return JobStatusProcessing
	default:
		return ""
	}
}

// JobProgress is advisory progress metadata written while a job is processing.
type JobProgress struct {
	Stage    string `json:"stage,omitempty"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
}

// Progress stages emitted by the orchestrator.
const (
	StageQueued     = "queued"
	StageGenerating = "generating"
	StageStoring    = "storing"
	StageDone       = "done"
)

// Job is one asynchronous unit of enrichment work. Jobs are retained after completion.
type Job struct {
	ID          uuid.UUID   `json:"id"`
	CallID      uuid.UUID   `json:"call_id"`
	Type        JobType     `json:"job_type"`
	Status      JobStatus   `json:"status"`
	Progress    JobProgress `json:"progress"`
	Error       *string     `json:"error,omitempty"`
	Cached      bool        `json:"cached"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// JobUpdate carries the optional fields written alongside a transition.
type JobUpdate struct {
	Progress *JobProgress
	Error    *string
}

// ListJobsFilters represents filters for listing jobs.
type ListJobsFilters struct {
	Status string `form:"status" validate:"omitempty,oneof=active pending processing completed failed"`
}

// EnrichRequest is a request to enrich a call.
type EnrichRequest struct {
	CallID          uuid.UUID
	JobType         JobType
	ContentType     ContentType
	ForceRegenerate bool
}

// EnrichResult is returned synchronously by an enrich request.
// ArtifactRef is set when the result is already available (cache hit).
type EnrichResult struct {
	JobID       uuid.UUID    `json:"job_id"`
	Status      JobStatus    `json:"status"`
	Cached      bool         `json:"cached"`
	ArtifactRef *ArtifactRef `json:"artifact_ref,omitempty"`
}
