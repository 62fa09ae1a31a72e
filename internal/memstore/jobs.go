package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/callinsights/hub/internal/huberrors"
	"github.com/callinsights/hub/internal/models"
)

type activeKey struct {
	callID  uuid.UUID
	jobType models.JobType
}

// Jobs is an in-memory job store. The active index plays the role of the partial unique index.
type Jobs struct {
	mu     sync.RWMutex
	jobs   map[uuid.UUID]models.Job
	order  []uuid.UUID
	active map[activeKey]uuid.UUID
	calls  *Calls
}

// NewJobs creates an empty job store. calls resolves owners for ListActive and ListByStatus.
func NewJobs(calls *Calls) *Jobs {
	return &Jobs{
		jobs:   make(map[uuid.UUID]models.Job),
		active: make(map[activeKey]uuid.UUID),
		calls:  calls,
	}
}

// Create inserts a pending job or returns DuplicateActiveJobError.
func (s *Jobs) Create(_ context.Context, callID uuid.UUID, jobType models.JobType) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := activeKey{callID: callID, jobType: jobType}
	if existing, ok := s.active[key]; ok {
		return nil, huberrors.NewDuplicateActiveJobError(callID, string(jobType), existing)
	}

	job := models.Job{
		ID:        uuid.Must(uuid.NewV7()),
		CallID:    callID,
		Type:      jobType,
		Status:    models.JobStatusPending,
		Progress:  models.JobProgress{Stage: models.StageQueued},
		CreatedAt: now(),
	}

	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	s.active[key] = job.ID

	return &job, nil
}

// CreateCached inserts a completed, cached job.
func (s *Jobs) CreateCached(_ context.Context, callID uuid.UUID, jobType models.JobType) (*models.Job, error) {
	ts := now()
	job := models.Job{
		ID:          uuid.Must(uuid.NewV7()),
		CallID:      callID,
		Type:        jobType,
		Status:      models.JobStatusCompleted,
		Progress:    models.JobProgress{Stage: models.StageDone, Progress: 100},
		Cached:      true,
		CreatedAt:   ts,
		StartedAt:   &ts,
		CompletedAt: &ts,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	s.mu.Unlock()

	return &job, nil
}

// Transition applies a checked status change.
func (s *Jobs) Transition(_ context.Context, id uuid.UUID, to models.JobStatus, update models.JobUpdate) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, huberrors.NewEntityNotFoundError("job", id.String())
	}

	if !job.Status.CanTransitionTo(to) {
		return nil, huberrors.NewInvalidTransitionError(id, string(job.Status), string(to))
	}

	ts := now()
	job.Status = to

	if update.Progress != nil {
		job.Progress = *update.Progress
	}

	if update.Error != nil {
		msg := *update.Error
		job.Error = &msg
	}

	switch to {
	case models.JobStatusProcessing:
		job.StartedAt = &ts
	case models.JobStatusCompleted, models.JobStatusFailed:
		job.CompletedAt = &ts
		delete(s.active, activeKey{callID: job.CallID, jobType: job.Type})
	}

	s.jobs[id] = job

	return &job, nil
}

// UpdateProgress writes progress on a processing job.
func (s *Jobs) UpdateProgress(_ context.Context, id uuid.UUID, progress models.JobProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return huberrors.NewEntityNotFoundError("job", id.String())
	}

	if job.Status != models.JobStatusProcessing {
		return huberrors.NewInvalidTransitionError(id, string(job.Status), string(job.Status))
	}

	job.Progress = progress
	s.jobs[id] = job

	return nil
}

// Get returns a copy of the job.
func (s *Jobs) Get(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, huberrors.NewEntityNotFoundError("job", id.String())
	}

	return &job, nil
}

// ListByCall returns the call's jobs, newest first.
func (s *Jobs) ListByCall(_ context.Context, callID uuid.UUID) ([]models.Job, error) {
	return s.filter(func(j models.Job) bool { return j.CallID == callID }), nil
}

// ListActive returns pending and processing jobs for ownerID ("" for all owners), newest first.
func (s *Jobs) ListActive(_ context.Context, ownerID string) ([]models.Job, error) {
	return s.filter(func(j models.Job) bool {
		return j.Status.IsActive() && s.ownedBy(j, ownerID)
	}), nil
}

// ListByStatus returns jobs in status for ownerID ("" for all owners), newest first.
func (s *Jobs) ListByStatus(_ context.Context, ownerID string, status models.JobStatus) ([]models.Job, error) {
	return s.filter(func(j models.Job) bool {
		return j.Status == status && s.ownedBy(j, ownerID)
	}), nil
}

// ListStale returns active jobs created before cutoff.
func (s *Jobs) ListStale(_ context.Context, cutoff time.Time) ([]models.Job, error) {
	return s.filter(func(j models.Job) bool {
		return j.Status.IsActive() && j.CreatedAt.Before(cutoff)
	}), nil
}

func (s *Jobs) ownedBy(j models.Job, ownerID string) bool {
	if ownerID == "" {
		return true
	}

	owner, ok := s.calls.ownerOf(j.CallID)

	return ok && owner == ownerID
}

func (s *Jobs) filter(keep func(models.Job) bool) []models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Job, 0)

	for _, id := range slices.Backward(s.order) {
		if job := s.jobs[id]; keep(job) {
			out = append(out, job)
		}
	}

	return out
}
