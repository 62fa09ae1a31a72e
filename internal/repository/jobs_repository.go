package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/callinsights/hub/internal/huberrors"
	"github.com/callinsights/hub/internal/models"
)

const (
	jobColumns = `id, call_id, job_type, status, stage, progress, message, error, cached,
	created_at, started_at, completed_at`

	activeJobIndex  = "enrichment_jobs_one_active"
	uniqueViolation = "23505"
)

// JobsRepository is the Postgres job store. The partial unique index enrichment_jobs_one_active
// enforces one active job per (call, job type) across processes; transitions are conditional
// updates on the expected previous status.
type JobsRepository struct {
	db *pgxpool.Pool
}

// NewJobsRepository creates a new jobs repository.
func NewJobsRepository(db *pgxpool.Pool) *JobsRepository {
	return &JobsRepository{db: db}
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var job models.Job

	err := row.Scan(
		&job.ID, &job.CallID, &job.Type, &job.Status,
		&job.Progress.Stage, &job.Progress.Progress, &job.Progress.Message,
		&job.Error, &job.Cached, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]models.Job, error) {
	defer rows.Close()

	jobs := []models.Job{}

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		jobs = append(jobs, *job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

// Create inserts a pending job. A unique violation on the active-job index is reported as
// DuplicateActiveJobError carrying the job that holds the slot.
func (r *JobsRepository) Create(ctx context.Context, callID uuid.UUID, jobType models.JobType) (*models.Job, error) {
	query := `
		INSERT INTO enrichment_jobs (id, call_id, job_type, status, stage)
		VALUES ($1, $2, $3, 'pending', $4)
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRow(ctx, query, uuid.Must(uuid.NewV7()), callID, jobType, models.StageQueued))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == activeJobIndex {
			return nil, huberrors.NewDuplicateActiveJobError(callID, string(jobType), r.activeJobID(ctx, callID, jobType))
		}

		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	return job, nil
}

// activeJobID returns uuid.Nil when the active job finished in the meantime.
func (r *JobsRepository) activeJobID(ctx context.Context, callID uuid.UUID, jobType models.JobType) uuid.UUID {
	var id uuid.UUID

	err := r.db.QueryRow(ctx, `
		SELECT id FROM enrichment_jobs
		WHERE call_id = $1 AND job_type = $2 AND status IN ('pending', 'processing')`,
		callID, jobType,
	).Scan(&id)
	if err != nil {
		return uuid.Nil
	}

	return id
}

// CreateCached inserts a completed job with cached=true.
func (r *JobsRepository) CreateCached(ctx context.Context, callID uuid.UUID, jobType models.JobType) (*models.Job, error) {
	query := `
		INSERT INTO enrichment_jobs (id, call_id, job_type, status, stage, progress, cached, started_at, completed_at)
		VALUES ($1, $2, $3, 'completed', $4, 100, true, now(), now())
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRow(ctx, query, uuid.Must(uuid.NewV7()), callID, jobType, models.StageDone))
	if err != nil {
		return nil, fmt.Errorf("failed to create cached job: %w", err)
	}

	return job, nil
}

// Transition moves a job to `to` only if it is currently in to.PreviousStatus().
func (r *JobsRepository) Transition(ctx context.Context, id uuid.UUID, to models.JobStatus, update models.JobUpdate) (*models.Job, error) {
	from := to.PreviousStatus()
	if from == "" {
		return nil, huberrors.NewInvalidTransitionError(id, "", string(to))
	}

	var stage, message *string

	var progress *int

	if update.Progress != nil {
		stage = &update.Progress.Stage
		progress = &update.Progress.Progress
		message = &update.Progress.Message
	}

	query := `
		UPDATE enrichment_jobs
		SET status = $2,
			stage = COALESCE($4, stage),
			progress = COALESCE($5, progress),
			message = COALESCE($6, message),
			error = COALESCE($7, error),
			started_at = CASE WHEN $2 = 'processing' THEN now() ELSE started_at END,
			completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN now() ELSE completed_at END
		WHERE id = $1 AND status = $3
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRow(ctx, query, id, to, from, stage, progress, message, update.Error))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.rejectedTransition(ctx, id, string(to))
		}

		return nil, fmt.Errorf("failed to transition job: %w", err)
	}

	return job, nil
}

// rejectedTransition explains why a conditional update matched no row.
func (r *JobsRepository) rejectedTransition(ctx context.Context, id uuid.UUID, to string) error {
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	return huberrors.NewInvalidTransitionError(id, string(current.Status), to)
}

// UpdateProgress writes advisory progress on a processing job.
func (r *JobsRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress models.JobProgress) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE enrichment_jobs
		SET stage = $2, progress = $3, message = $4
		WHERE id = $1 AND status = 'processing'`,
		id, progress.Stage, progress.Progress, progress.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return r.rejectedTransition(ctx, id, string(models.JobStatusProcessing))
	}

	return nil
}

// Get retrieves a single job by ID.
func (r *JobsRepository) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := scanJob(r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM enrichment_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NewEntityNotFoundError("job", id.String())
		}

		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// ListByCall returns every job for a call, newest first.
func (r *JobsRepository) ListByCall(ctx context.Context, callID uuid.UUID) ([]models.Job, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+jobColumns+` FROM enrichment_jobs
		WHERE call_id = $1
		ORDER BY created_at DESC, id DESC`, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs for call: %w", err)
	}

	return collectJobs(rows)
}

// ListActive returns pending and processing jobs for ownerID ("" for all owners), newest first.
func (r *JobsRepository) ListActive(ctx context.Context, ownerID string) ([]models.Job, error) {
	return r.listByStatuses(ctx, ownerID, models.JobStatusPending, models.JobStatusProcessing)
}

// ListByStatus returns jobs in status for ownerID ("" for all owners), newest first.
func (r *JobsRepository) ListByStatus(ctx context.Context, ownerID string, status models.JobStatus) ([]models.Job, error) {
	return r.listByStatuses(ctx, ownerID, status)
}

func (r *JobsRepository) listByStatuses(ctx context.Context, ownerID string, statuses ...models.JobStatus) ([]models.Job, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	rows, err := r.db.Query(ctx, `
		SELECT j.id, j.call_id, j.job_type, j.status, j.stage, j.progress, j.message, j.error, j.cached,
			j.created_at, j.started_at, j.completed_at
		FROM enrichment_jobs j
		JOIN calls c ON c.id = j.call_id
		WHERE j.status = ANY($1) AND ($2 = '' OR c.owner_id = $2)
		ORDER BY j.created_at DESC, j.id DESC`, names, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return collectJobs(rows)
}

// ListStale returns active jobs created before cutoff.
func (r *JobsRepository) ListStale(ctx context.Context, cutoff time.Time) ([]models.Job, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+jobColumns+` FROM enrichment_jobs
		WHERE status IN ('pending', 'processing') AND created_at < $1
		ORDER BY created_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}

	return collectJobs(rows)
}
