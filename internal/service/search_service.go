package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/callinsights/hub/internal/huberrors"
	"github.com/callinsights/hub/internal/models"
	"github.com/callinsights/hub/internal/observability"
	"github.com/callinsights/hub/internal/search"
	"github.com/callinsights/hub/pkg/cache"
)

const (
	defaultSearchLimit     = 10
	defaultSearchMaxLimit  = 100
	defaultSearchThreshold = 0.7
)

// ErrEmptyQuery is returned for a blank search query.
var ErrEmptyQuery = huberrors.NewValidationError("query", "query is required and must be non-empty")

// SearchRequest is a semantic search over the caller's embedded calls.
// Threshold nil uses the configured default; Limit <= 0 uses defaultSearchLimit.
type SearchRequest struct {
	Query     string               `json:"query" validate:"required,max=2000,no_null_bytes"`
	Filters   models.SearchFilters `json:"filters"`
	Limit     int                  `json:"limit" validate:"gte=0"`
	Threshold *float64             `json:"threshold,omitempty" validate:"omitempty,gte=-1,lte=1"`
}

// SearchHit is one search result.
type SearchHit struct {
	EntityID   uuid.UUID                `json:"entity_id"`
	Similarity float64                  `json:"similarity"`
	Preview    string                   `json:"preview,omitempty"`
	Metadata   models.EmbeddingMetadata `json:"metadata"`
}

// SearchResponse is returned by Search and SimilarCalls.
type SearchResponse struct {
	Results      []SearchHit `json:"results"`
	SearchTimeMs int64       `json:"search_time_ms"`
}

// SearchService embeds queries and ranks the caller's stored embeddings.
type SearchService struct {
	embedder         EmbeddingClient
	candidates       CandidateSource
	entries          EnrichmentCache
	calls            CallStore
	engine           *search.Engine
	model            string
	queryCache       *cache.LoaderCache[string, []float32]
	defaultThreshold float64
	maxLimit         int
	cacheMetrics     observability.CacheMetrics
	metrics          observability.EnrichmentMetrics
	logger           *slog.Logger
}

// SearchServiceParams configures SearchService. QueryCache, metrics and Logger may be nil.
// A nil DefaultThreshold means 0.7; zero is a valid threshold.
type SearchServiceParams struct {
	Embedder         EmbeddingClient
	Candidates       CandidateSource
	Cache            EnrichmentCache
	Calls            CallStore
	Model            string
	QueryCache       *cache.LoaderCache[string, []float32]
	DefaultThreshold *float64
	MaxLimit         int
	CacheMetrics     observability.CacheMetrics
	Metrics          observability.EnrichmentMetrics
	Logger           *slog.Logger
}

// NewSearchService creates a SearchService.
func NewSearchService(p SearchServiceParams) *SearchService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxLimit := p.MaxLimit
	if maxLimit <= 0 {
		maxLimit = defaultSearchMaxLimit
	}

	threshold := defaultSearchThreshold
	if p.DefaultThreshold != nil {
		threshold = *p.DefaultThreshold
	}

	return &SearchService{
		embedder:         p.Embedder,
		candidates:       p.Candidates,
		entries:          p.Cache,
		calls:            p.Calls,
		engine:           search.NewEngine(),
		model:            p.Model,
		queryCache:       p.QueryCache,
		defaultThreshold: threshold,
		maxLimit:         maxLimit,
		cacheMetrics:     p.CacheMetrics,
		metrics:          p.Metrics,
		logger:           logger,
	}
}

// Search embeds req.Query with the configured embedding model and returns the caller's calls whose
// embeddings are at least req.Threshold similar, best first. No embeddings yields an empty result.
func (s *SearchService) Search(ctx context.Context, caller string, req SearchRequest) (*SearchResponse, error) {
	started := time.Now()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	vector, err := s.queryEmbedding(ctx, query)
	if err != nil {
		s.logger.ErrorContext(ctx, "semantic search: create embedding failed", "error", err, "model", s.model)

		return nil, fmt.Errorf("create query embedding: %w", err)
	}

	return s.rank(ctx, caller, vector, req, uuid.Nil, started)
}

// SimilarCalls ranks the caller's calls against the stored embedding of callID, excluding callID.
// Returns EntityNotFoundError when the call has no embedding yet.
func (s *SearchService) SimilarCalls(ctx context.Context, caller string, callID uuid.UUID, req SearchRequest) (*SearchResponse, error) {
	started := time.Now()

	call, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}

	if call.OwnerID != caller {
		return nil, huberrors.NewAccessDeniedError("call", callID.String())
	}

	entry, err := s.entries.Latest(ctx, callID, models.ContentTypeTranscriptForEmbedding)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, huberrors.NewEntityNotFoundError("embedding", callID.String())
		}

		return nil, fmt.Errorf("load call embedding: %w", err)
	}

	if entry.Model != s.model || len(entry.Embedding) == 0 {
		return nil, huberrors.NewEntityNotFoundError("embedding", callID.String())
	}

	return s.rank(ctx, caller, entry.Embedding, req, callID, started)
}

func (s *SearchService) rank(
	ctx context.Context, caller string, vector []float32, req SearchRequest, exclude uuid.UUID, started time.Time,
) (*SearchResponse, error) {
	candidates, err := s.candidates.ListCandidates(ctx, caller, s.model, req.Filters)
	if err != nil {
		return nil, fmt.Errorf("list search candidates: %w", err)
	}

	threshold := s.defaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	limit := s.limit(req.Limit)

	engineLimit := limit
	if exclude != uuid.Nil {
		// One extra so excluding the source call still fills the page.
		engineLimit++
	}

	matches, err := s.engine.Search(search.Query{
		Vector:    vector,
		Model:     s.model,
		Filters:   req.Filters,
		Limit:     engineLimit,
		Threshold: threshold,
	}, candidates)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(matches))

	for _, m := range matches {
		if m.CallID == exclude || len(hits) == limit {
			continue
		}

		hits = append(hits, SearchHit{
			EntityID:   m.CallID,
			Similarity: m.Similarity,
			Preview:    m.Preview,
			Metadata:   m.Metadata,
		})
	}

	elapsed := time.Since(started)
	if s.metrics != nil {
		s.metrics.RecordSearchDuration(ctx, elapsed)
	}

	return &SearchResponse{Results: hits, SearchTimeMs: elapsed.Milliseconds()}, nil
}

func (s *SearchService) limit(requested int) int {
	if requested <= 0 {
		return defaultSearchLimit
	}

	return min(requested, s.maxLimit)
}

func (s *SearchService) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	if s.queryCache == nil {
		return s.embedder.CreateEmbedding(ctx, query)
	}

	vector, hit, err := s.queryCache.GetWithStats(ctx, query, func(ctx context.Context, q string) ([]float32, error) {
		return s.embedder.CreateEmbedding(ctx, q)
	})
	if err != nil {
		return nil, err
	}

	if s.cacheMetrics != nil {
		if hit {
			s.cacheMetrics.RecordHit(ctx, observability.CacheNameQueryEmbedding)
		} else {
			s.cacheMetrics.RecordMiss(ctx, observability.CacheNameQueryEmbedding)
		}
	}

	return vector, nil
}
