package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// JobFailer fails an enrichment job row. Implemented by service.Orchestrator.
type JobFailer interface {
	FailJob(ctx context.Context, jobID uuid.UUID, message string) error
}

// ErrorHandler logs River job errors and panics. For enrichment jobs it also fails the job
// row, which would otherwise stay processing until the stale sweep.
type ErrorHandler struct {
	Failer JobFailer
}

// HandleError is called when a job returns an error.
func (h *ErrorHandler) HandleError(ctx context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	slog.ErrorContext(ctx, "job failed",
		"job_kind", job.Kind,
		"job_id", job.ID,
		"attempt", job.Attempt,
		"max_attempts", job.MaxAttempts,
		"error", err,
	)

	h.failEnrichment(ctx, job, "worker error: "+err.Error())

	// Return nil to use default retry behavior
	return nil
}

// HandlePanic is called when a job panics.
func (h *ErrorHandler) HandlePanic(ctx context.Context, job *rivertype.JobRow, panicVal any, trace string) *river.ErrorHandlerResult {
	slog.ErrorContext(ctx, "job panicked",
		"job_kind", job.Kind,
		"job_id", job.ID,
		"attempt", job.Attempt,
		"panic_value", panicVal,
		"stack_trace", trace,
	)

	h.failEnrichment(ctx, job, fmt.Sprintf("worker panic: %v", panicVal))

	return nil
}

func (h *ErrorHandler) failEnrichment(ctx context.Context, job *rivertype.JobRow, message string) {
	if h.Failer == nil || job.Kind != (EnrichmentJobArgs{}).Kind() || job.Attempt < job.MaxAttempts {
		return
	}

	var args EnrichmentJobArgs
	if err := json.Unmarshal(job.EncodedArgs, &args); err != nil {
		slog.ErrorContext(ctx, "decode enrichment job args failed", "job_id", job.ID, "error", err)

		return
	}

	if err := h.Failer.FailJob(ctx, args.JobID, message); err != nil {
		slog.WarnContext(ctx, "fail enrichment job after worker error",
			"enrichment_job_id", args.JobID, "error", err)
	}
}
