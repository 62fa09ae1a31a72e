package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/callinsights/hub/internal/api/handlers"
	"github.com/callinsights/hub/internal/api/middleware"
	"github.com/callinsights/hub/internal/audio"
	"github.com/callinsights/hub/internal/config"
	"github.com/callinsights/hub/internal/embeddings"
	"github.com/callinsights/hub/internal/generators"
	"github.com/callinsights/hub/internal/googleai"
	"github.com/callinsights/hub/internal/jobs"
	"github.com/callinsights/hub/internal/memstore"
	"github.com/callinsights/hub/internal/models"
	"github.com/callinsights/hub/internal/notify"
	"github.com/callinsights/hub/internal/observability"
	"github.com/callinsights/hub/internal/openai"
	"github.com/callinsights/hub/internal/qa"
	"github.com/callinsights/hub/internal/rediscache"
	"github.com/callinsights/hub/internal/repository"
	"github.com/callinsights/hub/internal/service"
	"github.com/callinsights/hub/internal/whisper"
	"github.com/callinsights/hub/internal/workers"
	"github.com/callinsights/hub/pkg/cache"
	"github.com/callinsights/hub/pkg/database"
)

const (
	serviceName             = "callinsights-hub"
	maxRequestBodyBytes     = 1 << 20
	queryEmbeddingCacheSize = 1000
	riverQueueDepthInterval = 15 * time.Second
	healthCheckTimeout      = 2 * time.Second
)

var errUnsupportedEmbeddingProvider = errors.New("unsupported embedding provider")

// App holds all server dependencies and coordinates startup and shutdown.
type App struct {
	cfg            *config.Config
	db             *pgxpool.Pool
	redis          *goredis.Client
	server         *http.Server
	river          *river.Client[pgx.Tx]
	inline         *service.InlineDispatcher
	events         *service.JobEvents
	sweeper        *workers.StaleSweeper
	meterProvider  *observability.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	metrics        *observability.Metrics
}

// backends are the storage implementations selected by STORAGE_BACKEND and CACHE_BACKEND.
type backends struct {
	calls      service.CallStore
	jobs       service.JobStore
	cache      service.EnrichmentCache
	candidates service.CandidateSource
	checks     map[string]handlers.HealthCheck
}

// NewApp builds and wires all components. It does not start the HTTP server, River or the
// stale-job sweeper; call Run to start and block until shutdown or failure.
// db is nil when STORAGE_BACKEND=memory.
func NewApp(ctx context.Context, cfg *config.Config, db *pgxpool.Pool) (app *App, err error) {
	app = &App{cfg: cfg, db: db}

	// Release whatever was created when a later step fails.
	defer func() {
		if err != nil {
			app.releaseOnError()
		}
	}()

	var metricsHandler http.Handler

	if cfg.MetricsEnabled() {
		app.meterProvider, err = observability.NewMeterProvider(ctx, observability.MeterProviderConfig{
			Exporter:       cfg.OTelMetricsExporter,
			ServiceName:    serviceName,
			RuntimeMetrics: true,
		})
		if err != nil {
			return nil, fmt.Errorf("create meter provider: %w", err)
		}

		metricsHandler = app.meterProvider.Handler
		app.metrics = app.meterProvider.Metrics
		otel.SetMeterProvider(app.meterProvider)
	} else {
		slog.Warn("metrics not enabled (OTEL_METRICS_EXPORTER is neither prometheus nor otlp)")
	}

	app.tracerProvider, err = observability.NewTracerProvider(ctx, cfg.OTelTracesExporter, serviceName)
	if err != nil {
		return nil, fmt.Errorf("create tracer provider: %w", err)
	}

	if app.tracerProvider != nil {
		otel.SetTracerProvider(app.tracerProvider)
	} else {
		slog.Warn("tracing not enabled (OTEL_TRACES_EXPORTER empty or unsupported)")
	}

	store, err := app.newBackends(ctx)
	if err != nil {
		return nil, err
	}

	enrichmentCache := store.cache
	if cfg.CacheLRUSize > 0 {
		enrichmentCache, err = service.NewCachingEnrichmentCache(store.cache,
			cache.Options{MaxEntries: cfg.CacheLRUSize, TTL: cfg.CacheLRUTTL}, app.metrics.CacheOrNil())
		if err != nil {
			return nil, err
		}
	}

	embedder, embeddingModel, err := newEmbeddingClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app.events = service.NewJobEvents(service.JobEventsParams{Metrics: app.metrics.EventsOrNil()})

	if cfg.JobWebhookURL != "" {
		listener, err := notify.NewWebhookListener(notify.WebhookListenerParams{
			URL:     cfg.JobWebhookURL,
			Secret:  cfg.JobWebhookSecret,
			Timeout: cfg.CapabilityTimeout,
			Metrics: app.metrics.WebhooksOrNil(),
		})
		if err != nil {
			return nil, fmt.Errorf("create job webhook listener: %w", err)
		}

		app.events.RegisterListener(listener)
	}

	orchestrator := service.NewOrchestrator(service.OrchestratorParams{
		Calls:             store.calls,
		Jobs:              store.jobs,
		Cache:             enrichmentCache,
		Generators:        newGenerators(cfg, embedder, embeddingModel, enrichmentCache, app.metrics.EnrichmentOrNil()),
		Events:            app.events,
		Metrics:           app.metrics.EnrichmentOrNil(),
		CapabilityTimeout: cfg.CapabilityTimeout,
	})

	if err := app.setupDispatch(orchestrator); err != nil {
		return nil, err
	}

	if app.river == nil || cfg.WorkersEnabled {
		app.sweeper = workers.NewStaleSweeper(orchestrator, cfg.StaleJobTimeout, 0)
	}

	queryCache, err := cache.NewLoaderCache[string, []float32](queryEmbeddingCacheSize, func(q string) string { return q })
	if err != nil {
		return nil, fmt.Errorf("create query embedding cache: %w", err)
	}

	searchService := service.NewSearchService(service.SearchServiceParams{
		Embedder:         embedder,
		Candidates:       store.candidates,
		Cache:            enrichmentCache,
		Calls:            store.calls,
		Model:            embeddingModel,
		QueryCache:       queryCache,
		DefaultThreshold: &cfg.SearchDefaultThreshold,
		MaxLimit:         cfg.SearchMaxLimit,
		CacheMetrics:     app.metrics.CacheOrNil(),
		Metrics:          app.metrics.EnrichmentOrNil(),
	})

	grades := qa.DefaultGradeTable()
	if cfg.QAGradesFile != "" {
		grades, err = qa.LoadGradeTable(cfg.QAGradesFile)
		if err != nil {
			return nil, fmt.Errorf("load QA grade table: %w", err)
		}
	}

	bulk := service.NewBulkEnricher(service.BulkEnricherParams{
		Enricher:      orchestrator,
		Concurrency:   cfg.BulkConcurrency,
		RatePerSecond: cfg.BulkRateLimit,
	})

	routes := &routes{
		health:  handlers.NewHealthHandler(store.checks),
		calls:   handlers.NewCallsHandler(service.NewCallsService(store.calls)),
		enrich:  handlers.NewEnrichHandler(orchestrator, bulk),
		jobs:    handlers.NewJobsHandler(orchestrator, app.events),
		search:  handlers.NewSearchHandler(searchService),
		qa:      handlers.NewQAHandler(service.NewQAService(qa.NewAggregator(grades), store.calls, enrichmentCache)),
		metrics: metricsHandler,
	}

	app.server = newHTTPServer(cfg, routes, app.metrics.HTTPOrNil())

	slog.Info("application wired",
		"storage_backend", cfg.StorageBackend,
		"cache_backend", cfg.CacheBackend,
		"cache_lru_size", cfg.CacheLRUSize,
		"embedding_provider", cfg.EmbeddingProvider,
		"embedding_model", embeddingModel,
		"workers_enabled", cfg.WorkersEnabled,
		"capability_max_retries", cfg.CapabilityMaxRetries,
	)

	return app, nil
}

func (a *App) newBackends(ctx context.Context) (*backends, error) {
	if a.db == nil {
		st := memstore.New()

		return &backends{calls: st.Calls, jobs: st.Jobs, cache: st.Cache, candidates: st.Cache}, nil
	}

	cacheRepo := repository.NewEnrichmentCacheRepository(a.db)
	b := &backends{
		calls:      repository.NewCallsRepository(a.db),
		jobs:       repository.NewJobsRepository(a.db),
		cache:      cacheRepo,
		candidates: cacheRepo,
		checks:     map[string]handlers.HealthCheck{"database": database.Ping(a.db, healthCheckTimeout)},
	}

	if a.cfg.CacheBackend == config.BackendRedis {
		rdb, err := rediscache.Connect(ctx, a.cfg.RedisURL)
		if err != nil {
			return nil, err
		}

		a.redis = rdb
		// Postgres stays the system of record so search candidates and usage history survive.
		b.cache = rediscache.New(rdb, rediscache.WithWriteThrough(cacheRepo))
		b.checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	return b, nil
}

// setupDispatch routes jobs through River when Postgres is available, otherwise runs them inline.
func (a *App) setupDispatch(orchestrator *service.Orchestrator) error {
	if a.db == nil {
		a.inline = service.NewInlineDispatcher(orchestrator, true, nil)
		orchestrator.SetDispatcher(a.inline)

		return nil
	}

	riverWorkers := river.NewWorkers()
	river.AddWorker(riverWorkers, workers.NewEnrichmentWorker(orchestrator, a.cfg.CapabilityRateLimit, a.cfg.CapabilityTimeout))

	riverConfig := &river.Config{
		Workers:      riverWorkers,
		ErrorHandler: &jobs.ErrorHandler{Failer: orchestrator},
	}
	if a.cfg.WorkersEnabled {
		riverConfig.Queues = map[string]river.QueueConfig{
			jobs.QueueEnrichment: {MaxWorkers: a.cfg.EnrichmentMaxConcurrent},
		}
	} else {
		slog.Info("River workers disabled (WORKERS_ENABLED=false); jobs are only enqueued")
	}

	riverClient, err := river.NewClient(riverpgxv5.New(a.db), riverConfig)
	if err != nil {
		return fmt.Errorf("create River client: %w", err)
	}

	a.river = riverClient
	orchestrator.SetDispatcher(jobs.NewRiverDispatcher(riverClient))

	return nil
}

func newEmbeddingClient(ctx context.Context, cfg *config.Config) (service.EmbeddingClient, string, error) {
	apiKey := cfg.EmbeddingProviderAPIKey

	switch cfg.EmbeddingProvider {
	case config.EmbeddingProviderOpenAI:
		if apiKey == "" {
			apiKey = cfg.OpenAIAPIKey
		}

		return openai.NewClient(apiKey,
			openai.WithEmbeddingModel(cfg.EmbeddingModel),
			openai.WithDimensions(cfg.EmbeddingDimensions),
		), cfg.EmbeddingModel, nil
	case config.EmbeddingProviderGoogle:
		client, err := googleai.NewClient(ctx, apiKey,
			googleai.WithModel(cfg.EmbeddingModel),
			googleai.WithDimensions(cfg.EmbeddingDimensions),
		)
		if err != nil {
			return nil, "", fmt.Errorf("create google embedding client: %w", err)
		}

		return client, client.Model(), nil
	case config.EmbeddingProviderMock:
		client := embeddings.NewMockClientWithDimensions(cfg.EmbeddingDimensions)

		return client, client.Model(), nil
	default:
		return nil, "", fmt.Errorf("%w: %s", errUnsupportedEmbeddingProvider, cfg.EmbeddingProvider)
	}
}

// newGenerators registers one generator per job type. Transcription and insights need
// OPENAI_API_KEY; without it those jobs fail with "no generator configured".
func newGenerators(
	cfg *config.Config,
	embedder service.EmbeddingClient,
	embeddingModel string,
	insights generators.InsightsSource,
	metrics observability.EnrichmentMetrics,
) map[models.JobType]service.Generator {
	pricing := generators.DefaultPricing()
	retry := service.RetryingGeneratorConfig{MaxRetries: cfg.CapabilityMaxRetries, Metrics: metrics}

	gens := map[models.JobType]service.Generator{
		models.JobTypeEmbedding: service.NewRetryingGenerator(&generators.Embedding{
			Embedder: embedder,
			Model:    embeddingModel,
			Insights: insights,
			Pricing:  pricing,
		}, retry),
	}

	if cfg.OpenAIAPIKey == "" {
		slog.Info("transcription and insights disabled (OPENAI_API_KEY not set)")

		return gens
	}

	gens[models.JobTypeTranscription] = service.NewRetryingGenerator(&generators.Transcription{
		Fetcher:     audio.NewFetcher(audio.FetcherOptions{}),
		Transcriber: whisper.NewClient(cfg.OpenAIAPIKey, whisper.WithModel(cfg.TranscriptionModel)),
		Pricing:     pricing,
	}, retry)

	gens[models.JobTypeInsights] = service.NewRetryingGenerator(&generators.Insights{
		Client:  openai.NewClient(cfg.OpenAIAPIKey, openai.WithInsightsModel(cfg.InsightsModel)),
		Pricing: pricing,
	}, retry)

	return gens
}

type routes struct {
	health  *handlers.HealthHandler
	calls   *handlers.CallsHandler
	enrich  *handlers.EnrichHandler
	jobs    *handlers.JobsHandler
	search  *handlers.SearchHandler
	qa      *handlers.QAHandler
	metrics http.Handler
}

// newHTTPServer builds the HTTP server and muxes (no auth on /health and /metrics, API key on /v1/).
// Handler chain: RequestID -> otelhttp(Metrics(Logging(mux))) so access logs get trace_id/span_id from context.
func newHTTPServer(cfg *config.Config, rt *routes, httpMetrics observability.HTTPMetrics) *http.Server {
	public := http.NewServeMux()
	public.HandleFunc("GET /health", rt.health.Check)

	if rt.metrics != nil {
		public.Handle("GET /metrics", rt.metrics)
	}

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/calls", rt.calls.Create)
	protected.HandleFunc("GET /v1/calls/{id}", rt.calls.Get)
	protected.HandleFunc("PATCH /v1/calls/{id}/transcript", rt.calls.EditTranscript)

	protected.HandleFunc("POST /v1/calls/{id}/enrich", rt.enrich.Enrich)
	protected.HandleFunc("POST /v1/enrichments/bulk", rt.enrich.Bulk)

	protected.HandleFunc("GET /v1/jobs", rt.jobs.List)
	protected.HandleFunc("GET /v1/jobs/{id}", rt.jobs.Get)
	protected.HandleFunc("GET /v1/jobs/{id}/events", rt.jobs.Events)
	protected.HandleFunc("GET /v1/calls/{id}/jobs", rt.jobs.ListForCall)

	protected.HandleFunc("POST /v1/search", rt.search.Search)
	protected.HandleFunc("GET /v1/calls/{id}/similar", rt.search.SimilarCalls)

	protected.HandleFunc("POST /v1/qa/score", rt.qa.Score)
	protected.HandleFunc("GET /v1/calls/{id}/qa", rt.qa.ScoreCall)

	var protectedHandler http.Handler = protected
	protectedHandler = middleware.MaxBody(maxRequestBodyBytes, httpMetrics)(protectedHandler)
	protectedHandler = middleware.Auth(cfg.APIKey)(protectedHandler)

	mux := http.NewServeMux()
	mux.Handle("/v1/", protectedHandler)
	mux.Handle("/", public)

	// Skip tracing for health checks and scrapes to reduce noise.
	otelOpts := []otelhttp.Option{
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != "/metrics"
		}),
	}

	// Logging runs inside otelhttp so r.Context() has the span when we log (trace_id/span_id in access logs).
	inner := middleware.Metrics(httpMetrics)(middleware.Logging(mux))
	handler := otelhttp.NewHandler(inner, "hub-api", otelOpts...)
	handler = middleware.RequestID(handler)

	const (
		readTimeout  = 15 * time.Second
		writeTimeout = 30 * time.Second
		idleTimeout  = 60 * time.Second
	)

	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}

// Run starts the HTTP server, River and the stale-job sweeper, then blocks until ctx is
// cancelled (e.g. signal) or a component fails. Caller should then call Shutdown.
func (a *App) Run(ctx context.Context) error {
	runErr := make(chan error, 1)

	bgCtx, cancelBackground := context.WithCancel(ctx)
	defer cancelBackground()

	if a.river != nil {
		if a.cfg.WorkersEnabled {
			if err := a.river.Start(bgCtx); err != nil {
				return fmt.Errorf("river: %w", err)
			}
		}

		if events := a.metrics.EventsOrNil(); events != nil {
			go runRiverQueueDepthPoller(bgCtx, a.db, events)
		}
	}

	if a.sweeper != nil {
		go a.sweeper.Start(bgCtx)
	}

	go func() {
		slog.Info("Starting server", "port", a.cfg.Port)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case runErr <- fmt.Errorf("server: %w", err):
			default:
			}
		}
	}()

	select {
	case err := <-runErr:
		return err
	case <-ctx.Done():
		return nil
	}
}

// runRiverQueueDepthPoller periodically updates the enrichment queue depth gauge.
func runRiverQueueDepthPoller(ctx context.Context, db *pgxpool.Pool, eventMetrics observability.EventMetrics) {
	ticker := time.NewTicker(riverQueueDepthInterval)
	defer ticker.Stop()

	update := func() {
		var count int

		err := db.QueryRow(ctx,
			`SELECT COUNT(*) FROM river_job WHERE queue = $1 AND state IN ($2, $3, $4)`,
			jobs.QueueEnrichment,
			rivertype.JobStateAvailable, rivertype.JobStateRetryable, rivertype.JobStateScheduled,
		).Scan(&count)
		if err != nil {
			slog.WarnContext(ctx, "river queue depth poll failed", "error", err)

			return
		}

		eventMetrics.SetQueueDepth(count)
	}

	update()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}

// shutdownObservability shuts down tracer and meter providers. Logs secondary errors, returns the first.
func shutdownObservability(ctx context.Context, tracer *sdktrace.TracerProvider, meter *observability.MeterProvider) error {
	var first error

	if err := observability.ShutdownTracerProvider(ctx, tracer); err != nil {
		first = err
	}

	if meter != nil {
		if err := meter.Shutdown(ctx); err != nil {
			if first == nil {
				first = fmt.Errorf("meter provider shutdown: %w", err)
			} else {
				slog.Error("shutdown meter provider", "error", err)
			}
		}
	}

	return first
}

// Shutdown stops the server, then job processing, then event delivery, in that order.
// Observability is shut down once via defer; its error is returned only when the rest succeeded.
func (a *App) Shutdown(ctx context.Context) (err error) {
	defer func() {
		obsErr := shutdownObservability(ctx, a.tracerProvider, a.meterProvider)
		if err == nil {
			err = obsErr
		} else if obsErr != nil {
			slog.Error("shutdown observability", "error", obsErr)
		}
	}()

	if err = a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		err = fmt.Errorf("server shutdown: %w", err)
	} else {
		err = nil
	}

	if a.river != nil && a.cfg.WorkersEnabled {
		if stopErr := a.river.Stop(ctx); stopErr != nil {
			slog.Error("river stop", "error", stopErr)

			if err == nil {
				err = fmt.Errorf("river stop: %w", stopErr)
			}
		}
	}

	if a.inline != nil {
		a.inline.Wait()
	}

	// Listeners drain after jobs stop so terminal events from in-flight jobs are still delivered.
	a.events.Shutdown()

	if a.redis != nil {
		if closeErr := a.redis.Close(); closeErr != nil {
			slog.Error("close redis client", "error", closeErr)
		}
	}

	return err
}

// releaseOnError undoes partial construction in NewApp.
func (a *App) releaseOnError() {
	ctx := context.Background()

	if a.events != nil {
		a.events.Shutdown()
	}

	if a.redis != nil {
		_ = a.redis.Close()
	}

	if err := shutdownObservability(ctx, a.tracerProvider, a.meterProvider); err != nil {
		slog.Error("shutdown observability after startup error", "error", err)
	}
}
