package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/callinsights/hub/internal/models"
)

// Enricher is the single-call enrich operation. Implemented by Orchestrator.
type Enricher interface {
	Enrich(ctx context.Context, caller string, req models.EnrichRequest) (*models.EnrichResult, error)
}

// EnricherFunc adapts a function to Enricher.
type EnricherFunc func(ctx context.Context, caller string, req models.EnrichRequest) (*models.EnrichResult, error)

// Enrich calls f.
func (f EnricherFunc) Enrich(ctx context.Context, caller string, req models.EnrichRequest) (*models.EnrichResult, error) {
	return f(ctx, caller, req)
}

// BulkRequest fans one job type out over many calls.
type BulkRequest struct {
	CallIDs         []uuid.UUID        `json:"call_ids" validate:"required,min=1,max=1000,dive,required"`
	JobType         models.JobType     `json:"job_type" validate:"required,oneof=transcription insights embedding"`
	ContentType     models.ContentType `json:"content_type,omitempty"`
	ForceRegenerate bool               `json:"force_regenerate"`
	// Concurrency overrides the configured default when > 0.
	Concurrency int `json:"concurrency,omitempty" validate:"gte=0,lte=32"`
}

// BulkItem is the outcome for one call. Error is set instead of JobID when enrich failed.
type BulkItem struct {
	CallID uuid.UUID        `json:"call_id"`
	JobID  *uuid.UUID       `json:"job_id,omitempty"`
	Status models.JobStatus `json:"status,omitempty"`
	Cached bool             `json:"cached"`
	Error  string           `json:"error,omitempty"`
}

// BulkResult preserves request order.
type BulkResult struct {
	Items     []BulkItem `json:"items"`
	Accepted  int        `json:"accepted"`
	Cached    int        `json:"cached"`
	Failed    int        `json:"failed"`
	Cancelled int        `json:"cancelled"`
}

// BulkEnricher issues independent enrich calls with bounded concurrency and a start-rate limit.
// It never batches: each item is its own job, so a half-finished run is inspectable and re-runnable.
type BulkEnricher struct {
	enricher    Enricher
	concurrency int
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// BulkEnricherParams configures BulkEnricher. Concurrency defaults to 1 (serialized starts);
// RatePerSecond <= 0 disables pacing.
type BulkEnricherParams struct {
	Enricher      Enricher
	Concurrency   int
	RatePerSecond float64
	Logger        *slog.Logger
}

// NewBulkEnricher creates a BulkEnricher.
func NewBulkEnricher(p BulkEnricherParams) *BulkEnricher {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if p.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(p.RatePerSecond), 1)
	}

	return &BulkEnricher{
		enricher:    p.Enricher,
		concurrency: concurrency,
		limiter:     limiter,
		logger:      logger,
	}
}

// Run enriches every call in req. Per-item errors are captured in the result and never abort the
// batch; cancelling ctx stops starting new items and marks the rest cancelled.
func (b *BulkEnricher) Run(ctx context.Context, caller string, req BulkRequest) *BulkResult {
	concurrency := b.concurrency
	if req.Concurrency > 0 {
		concurrency = req.Concurrency
	}

	items := make([]BulkItem, len(req.CallIDs))

	var g errgroup.Group

	g.SetLimit(concurrency)

	var mu sync.Mutex

	result := &BulkResult{}

	for i, callID := range req.CallIDs {
		items[i].CallID = callID

		if err := b.limiter.Wait(ctx); err != nil {
			items[i].Error = fmt.Sprintf("not started: %v", err)

			mu.Lock()
			result.Cancelled++
			mu.Unlock()

			continue
		}

		g.Go(func() error {
			res, err := b.enricher.Enrich(ctx, caller, models.EnrichRequest{
				CallID:          callID,
				JobType:         req.JobType,
				ContentType:     req.ContentType,
				ForceRegenerate: req.ForceRegenerate,
			})

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				items[i].Error = err.Error()
				result.Failed++

				return nil
			}

			items[i].JobID = &res.JobID
			items[i].Status = res.Status
			items[i].Cached = res.Cached

			if res.Cached {
				result.Cached++
			} else {
				result.Accepted++
			}

			return nil
		})
	}

	_ = g.Wait()

	result.Items = items

	b.logger.InfoContext(ctx, "bulk enrichment finished",
		"job_type", req.JobType, "calls", len(req.CallIDs), "accepted", result.Accepted,
		"cached", result.Cached, "failed", result.Failed, "cancelled", result.Cancelled)

	return result
}
