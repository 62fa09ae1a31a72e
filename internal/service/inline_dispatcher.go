package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/callinsights/hub/internal/models"
)

// JobProcessor runs a dispatched job. Implemented by Orchestrator.
type JobProcessor interface {
	Process(ctx context.Context, jobID uuid.UUID) error
}

// InlineDispatcher runs jobs in-process, used with STORAGE_BACKEND=memory where River
// (Postgres-backed) is unavailable, and in tests. Async dispatch runs each job on its own
// goroutine detached from the request context; Wait blocks until they finish.
type InlineDispatcher struct {
	processor JobProcessor
	async     bool
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// NewInlineDispatcher creates an InlineDispatcher. logger may be nil.
func NewInlineDispatcher(processor JobProcessor, async bool, logger *slog.Logger) *InlineDispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &InlineDispatcher{processor: processor, async: async, logger: logger}
}

// Dispatch processes the job synchronously or on a background goroutine.
func (d *InlineDispatcher) Dispatch(ctx context.Context, job *models.Job) error {
	if !d.async {
		return d.processor.Process(ctx, job.ID)
	}

	bg := context.WithoutCancel(ctx)

	d.wg.Go(func() {
		if err := d.processor.Process(bg, job.ID); err != nil {
			d.logger.ErrorContext(bg, "inline job processing failed", "job_id", job.ID, "error", err)
		}
	})

	return nil
}

// Wait blocks until every asynchronously dispatched job has finished.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

var _ JobDispatcher = (*InlineDispatcher)(nil)
