// Package googleai embeds call transcripts and search queries with the Gemini API
// (EMBEDDING_PROVIDER=google).
package googleai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/callinsights/hub/internal/huberrors"
	"github.com/callinsights/hub/pkg/embeddings"
)

// Gemini task types. Transcripts and queries are compared against each other, so the default is
// the symmetric similarity task.
const (
	TaskSemanticSimilarity = "SEMANTIC_SIMILARITY"
	TaskRetrievalDocument  = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery     = "RETRIEVAL_QUERY"
)

const (
	defaultModel = "gemini-embedding-001"
	// Gemini returns unit vectors only at full size; truncated outputs are normalized here.
	nativeDimensions = 3072
)

// Client calls models.embedContent through the Gen AI SDK.
type Client struct {
	models     *genai.Models
	model      string
	taskType   string
	dimensions int32
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithDimensions sets the output dimensionality. It must match the vector column.
func WithDimensions(dim int) ClientOption {
	return func(c *Client) {
		if dim > 0 && dim <= math.MaxInt32 {
			c.dimensions = int32(dim)
		}
	}
}

// WithModel overrides the embedding model. Empty keeps gemini-embedding-001.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTaskType sets the Gemini task type.
func WithTaskType(taskType string) ClientOption {
	return func(c *Client) {
		c.taskType = taskType
	}
}

// NewClient creates a Gemini embedding client for the Developer API backend.
func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("googleai: api key is required")
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("googleai client: %w", err)
	}

	c := &Client{
		models:     gc.Models,
		model:      defaultModel,
		taskType:   TaskSemanticSimilarity,
		dimensions: 1536,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Model returns the embedding model recorded on stored vectors.
func (c *Client) Model() string { return c.model }

// CreateEmbedding embeds text and returns a unit vector of the configured size.
func (c *Client) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, huberrors.NewEmptyContentError("embedding input")
	}

	dims := c.dimensions

	resp, err := c.models.EmbedContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{TaskType: c.taskType, OutputDimensionality: &dims},
	)
	if err != nil {
		return nil, huberrors.NewExternalCapabilityError("embedding", isTransient(err),
			fmt.Errorf("gemini embed content: %w", err))
	}

	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, huberrors.NewExternalCapabilityError("embedding", false,
			errors.New("gemini returned no embedding"))
	}

	values := resp.Embeddings[0].Values
	if len(values) != int(c.dimensions) {
		return nil, huberrors.NewDimensionMismatchError(int(c.dimensions), len(values))
	}

	vector := make([]float32, len(values))
	copy(vector, values)

	if c.dimensions < nativeDimensions {
		embeddings.NormalizeL2(vector)
	}

	return vector, nil
}

// isTransient reports rate limits, 5xx responses and deadline errors.
func isTransient(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}

	return errors.Is(err, context.DeadlineExceeded)
}
