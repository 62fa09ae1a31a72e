package workers

import (
	"context"
	"log/slog"
	"time"
)

// staleJobFailer is implemented by service.Orchestrator.
type staleJobFailer interface {
	FailStaleJobs(ctx context.Context, maxAge time.Duration) (int, error)
}

// StaleSweeper periodically fails enrichment jobs that stayed active longer than maxAge,
// e.g. after a worker crash. Running it on several replicas is safe: transitions are
// conditional on the current status.
type StaleSweeper struct {
	failer       staleJobFailer
	maxAge       time.Duration
	pollInterval time.Duration
}

// NewStaleSweeper creates a sweeper. pollInterval <= 0 uses maxAge/4 (at least 10s).
func NewStaleSweeper(failer staleJobFailer, maxAge, pollInterval time.Duration) *StaleSweeper {
	if pollInterval <= 0 {
		pollInterval = max(maxAge/4, 10*time.Second)
	}

	return &StaleSweeper{failer: failer, maxAge: maxAge, pollInterval: pollInterval}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *StaleSweeper) Start(ctx context.Context) {
	slog.InfoContext(ctx, "stale job sweeper started", "max_age", s.maxAge, "poll_interval", s.pollInterval)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "stale job sweeper stopped")

			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *StaleSweeper) runOnce(ctx context.Context) {
	n, err := s.failer.FailStaleJobs(ctx, s.maxAge)
	if err != nil {
		slog.ErrorContext(ctx, "stale job sweep failed", "error", err)

		return
	}

	if n == 0 {
		slog.DebugContext(ctx, "no stale enrichment jobs")
	}
}
