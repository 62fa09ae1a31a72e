package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/callinsights/hub/internal/models"
	"github.com/callinsights/hub/internal/service"
)

// Inserter enqueues a River job. *river.Client satisfies it, whether or not it runs workers.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// RiverDispatcher implements service.JobDispatcher by inserting an EnrichmentJobArgs job.
type RiverDispatcher struct {
	inserter Inserter
}

// NewRiverDispatcher creates a dispatcher. inserter is usually a *river.Client[pgx.Tx].
func NewRiverDispatcher(inserter Inserter) *RiverDispatcher {
	return &RiverDispatcher{inserter: inserter}
}

// Dispatch enqueues the job with uniqueness on its job ID, so a repeated dispatch of the
// same row does not run it twice.
func (d *RiverDispatcher) Dispatch(ctx context.Context, job *models.Job) error {
	res, err := d.inserter.Insert(ctx, EnrichmentJobArgs{
		JobID:   job.ID,
		CallID:  job.CallID,
		JobType: string(job.Type),
	}, &river.InsertOpts{
		UniqueOpts: river.UniqueOpts{
			ByArgs: true,
			// Note: JobStatePending is required by River when using ByState
			ByState: []rivertype.JobState{
				rivertype.JobStatePending,
				rivertype.JobStateAvailable,
				rivertype.JobStateRunning,
				rivertype.JobStateRetryable,
				rivertype.JobStateScheduled,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("insert enrichment job: %w", err)
	}

	if res != nil && res.UniqueSkippedAsDuplicate {
		slog.DebugContext(ctx, "enrichment job already enqueued", "job_id", job.ID)
	}

	return nil
}

var _ service.JobDispatcher = (*RiverDispatcher)(nil)
