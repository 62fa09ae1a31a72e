package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/callinsights/hub/internal/huberrors"
	"github.com/callinsights/hub/internal/observability"
)

const (
	defaultRetryInitialInterval = 500 * time.Millisecond
	defaultRetryMaxInterval     = 10 * time.Second
)

// RetryingGenerator retries transient capability failures with exponential backoff and jitter.
// Only ExternalCapabilityError with Transient=true is retried; everything else fails on the first
// attempt. Retries stop at MaxRetries or when ctx (the capability timeout) is done, and happen
// while the job stays processing.
type RetryingGenerator struct {
	inner           Generator
	maxRetries      uint64
	initialInterval time.Duration
	maxInterval     time.Duration
	metrics         observability.EnrichmentMetrics
	logger          *slog.Logger
}

// RetryingGeneratorConfig holds configuration for RetryingGenerator.
type RetryingGeneratorConfig struct {
	MaxRetries      int           // Retries after the first attempt (total attempts = 1 + MaxRetries).
	InitialInterval time.Duration // Backoff after the first failure; grows exponentially up to MaxInterval.
	MaxInterval     time.Duration
	Metrics         observability.EnrichmentMetrics
	Logger          *slog.Logger
}

// NewRetryingGenerator wraps inner. With MaxRetries <= 0 it returns inner unchanged.
func NewRetryingGenerator(inner Generator, cfg RetryingGeneratorConfig) Generator {
	if cfg.MaxRetries <= 0 {
		return inner
	}

	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = defaultRetryInitialInterval
	}

	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = max(defaultRetryMaxInterval, cfg.InitialInterval)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RetryingGenerator{
		inner:           inner,
		maxRetries:      uint64(cfg.MaxRetries),
		initialInterval: cfg.InitialInterval,
		maxInterval:     cfg.MaxInterval,
		metrics:         cfg.Metrics,
		logger:          logger,
	}
}

// Generate calls the inner generator, retrying transient failures.
func (r *RetryingGenerator) Generate(ctx context.Context, in GenerateInput) (*GenerateOutput, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.initialInterval
	exp.MaxInterval = r.maxInterval
	// The capability timeout on ctx bounds total time.
	exp.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, r.maxRetries), ctx)

	attempt := 0

	op := func() (*GenerateOutput, error) {
		attempt++

		out, err := r.inner.Generate(ctx, in)
		if err == nil {
			return out, nil
		}

		var capErr *huberrors.ExternalCapabilityError
		if errors.As(err, &capErr) && capErr.Transient {
			return nil, err
		}

		return nil, backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		r.logger.WarnContext(ctx, "transient capability error, retrying after backoff",
			"job_type", in.JobType, "attempt", attempt, "max_attempts", r.maxRetries+1,
			"backoff", wait, "error", err)

		if r.metrics != nil {
			r.metrics.RecordCapabilityRetry(ctx, string(in.JobType))
		}
	}

	return backoff.RetryNotifyWithData(op, policy, notify)
}

var _ Generator = (*RetryingGenerator)(nil)
