// Package workers provides the River enrichment worker and the stale-job sweeper.
package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"golang.org/x/time/rate"

	"github.com/callinsights/hub/internal/jobs"
)

// jobProcessor is the minimal interface needed by the worker. Implemented by service.Orchestrator.
type jobProcessor interface {
	Process(ctx context.Context, jobID uuid.UUID) error
}

// timeoutMargin leaves room for the cache write and terminal transition after the capability
// timeout fires inside Process.
const timeoutMargin = 30 * time.Second

// EnrichmentWorker runs enrichment jobs. A shared limiter caps how fast capability calls start
// across this process's workers.
type EnrichmentWorker struct {
	river.WorkerDefaults[jobs.EnrichmentJobArgs]

	processor         jobProcessor
	limiter           *rate.Limiter
	capabilityTimeout time.Duration
}

// NewEnrichmentWorker creates a worker. ratePerSecond <= 0 disables the limiter.
func NewEnrichmentWorker(processor jobProcessor, ratePerSecond float64, capabilityTimeout time.Duration) *EnrichmentWorker {
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), max(1, int(ratePerSecond)))
	}

	return &EnrichmentWorker{
		processor:         processor,
		limiter:           limiter,
		capabilityTimeout: capabilityTimeout,
	}
}

// Timeout limits how long a single enrichment job can run.
func (w *EnrichmentWorker) Timeout(*river.Job[jobs.EnrichmentJobArgs]) time.Duration {
	return w.capabilityTimeout + timeoutMargin
}

// Work waits for the limiter and runs the job. Capability failures are recorded on the job
// row by Process and are not River errors.
func (w *EnrichmentWorker) Work(ctx context.Context, job *river.Job[jobs.EnrichmentJobArgs]) error {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for capability rate limit: %w", err)
		}
	}

	return w.processor.Process(ctx, job.Args.JobID)
}
