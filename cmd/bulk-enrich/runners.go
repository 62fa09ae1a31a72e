package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/callinsights/hub/internal/api/middleware"
	"github.com/callinsights/hub/internal/config"
	"github.com/callinsights/hub/internal/jobs"
	"github.com/callinsights/hub/internal/repository"
	"github.com/callinsights/hub/internal/service"
	"github.com/callinsights/hub/pkg/database"
)

const httpTimeout = 5 * time.Minute

// localRunner enqueues jobs straight into Postgres. Postgres is the system of record for the
// cache even when the API fronts it with Redis, so cache hits are still detected.
type localRunner struct {
	db   *pgxpool.Pool
	bulk *service.BulkEnricher
}

func newLocalRunner(ctx context.Context, opts *options) (*localRunner, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	if cfg.StorageBackend != config.BackendPostgres {
		return nil, fmt.Errorf("in-process mode needs STORAGE_BACKEND=%s; use --api-url for a memory-backed hub",
			config.BackendPostgres)
	}

	db, err := database.NewPostgresPool(ctx, cfg.DatabaseURL,
		database.WithMaxConns(4), database.WithVectorTypes(), database.WithApplicationName("bulk-enrich"))
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// Insert-only: no queues or workers, the API process runs the jobs.
	riverClient, err := river.NewClient(riverpgxv5.New(db), &river.Config{})
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("create River client: %w", err)
	}

	orchestrator := service.NewOrchestrator(service.OrchestratorParams{
		Calls:      repository.NewCallsRepository(db),
		Jobs:       repository.NewJobsRepository(db),
		Cache:      repository.NewEnrichmentCacheRepository(db),
		Dispatcher: jobs.NewRiverDispatcher(riverClient),
	})

	concurrency := cfg.BulkConcurrency
	if opts.concurrency > 0 {
		concurrency = opts.concurrency
	}

	rate := cfg.BulkRateLimit
	if opts.rate > 0 {
		rate = opts.rate
	}

	return &localRunner{
		db: db,
		bulk: service.NewBulkEnricher(service.BulkEnricherParams{
			Enricher:      orchestrator,
			Concurrency:   concurrency,
			RatePerSecond: rate,
		}),
	}, nil
}

func (r *localRunner) Run(ctx context.Context, caller string, req service.BulkRequest) (*service.BulkResult, error) {
	return r.bulk.Run(ctx, caller, req), nil
}

func (r *localRunner) Close() {
	r.db.Close()
}

// httpRunner posts the batch to a running hub.
type httpRunner struct {
	baseURL string
	apiKey  string
	client  *retryablehttp.Client
}

func newHTTPRunner(baseURL, apiKey string) *httpRunner {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	client.HTTPClient.Timeout = httpTimeout

	return &httpRunner{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

func (r *httpRunner) Run(ctx context.Context, caller string, req service.BulkRequest) (*service.BulkResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/v1/enrichments/bulk", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	httpReq.Header.Set(middleware.OwnerHeader, caller)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send bulk request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		return nil, fmt.Errorf("bulk request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var result service.BulkResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode bulk response: %w", err)
	}

	return &result, nil
}

func (r *httpRunner) Close() {}

// parseCallIDs merges IDs from flags and an optional reader (one per line, '#' comments and
// blank lines skipped). Order is kept; duplicates are dropped.
func parseCallIDs(flagIDs []string, file io.Reader) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]struct{})

	var ids []uuid.UUID

	add := func(raw, where string) error {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("invalid call ID %q (%s): %w", raw, where, err)
		}

		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}

		return nil
	}

	for _, raw := range flagIDs {
		if err := add(raw, "--ids"); err != nil {
			return nil, err
		}
	}

	if file == nil {
		return ids, nil
	}

	scanner := bufio.NewScanner(file)
	line := 0

	for scanner.Scan() {
		line++

		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		if err := add(text, fmt.Sprintf("line %d", line)); err != nil {
			return nil, err
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ids: %w", err)
	}

	return ids, nil
}
