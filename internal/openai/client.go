// Package openai wraps the official OpenAI Go SDK for call embeddings and insights.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

var (
	// ErrEmptyInput is returned when CreateEmbedding is called with empty input.
	ErrEmptyInput = errors.New("openai: input text is empty")
	// ErrInvalidDims is returned when dimensions is not positive.
	ErrInvalidDims = errors.New("openai: embedding dimensions must be positive")
	// ErrNoEmbeddingInResponse is returned when the API response contains no embedding data.
	ErrNoEmbeddingInResponse = errors.New("openai: no embedding in response")
	// ErrDimensionMismatch is returned when the response embedding length does not match configured dimensions.
	ErrDimensionMismatch = errors.New("openai: embedding dimension mismatch")
)

const (
	defaultDimension      = 1536
	defaultEmbeddingModel = "text-embedding-3-small"
	defaultInsightsModel  = "gpt-4o-mini"
)

// Client calls the OpenAI embeddings and chat completions APIs via the official SDK.
type Client struct {
	sdk            openaisdk.Client
	embeddingModel string
	insightsModel  string
	dimensions     int
	requestOpts    []option.RequestOption
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithDimensions sets the requested embedding dimension (must match DB column).
func WithDimensions(dim int) ClientOption {
	return func(c *Client) {
		c.dimensions = dim
	}
}

// WithEmbeddingModel sets the embedding model. Empty keeps text-embedding-3-small.
func WithEmbeddingModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.embeddingModel = model
		}
	}
}

// WithInsightsModel sets the chat model used for insights. Empty keeps gpt-4o-mini.
func WithInsightsModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.insightsModel = model
		}
	}
}

// WithRequestOptions appends SDK request options (base URL, retries) applied to every request.
func WithRequestOptions(opts ...option.RequestOption) ClientOption {
	return func(c *Client) {
		c.requestOpts = append(c.requestOpts, opts...)
	}
}

// NewClient creates an OpenAI client using the official SDK.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	client := &Client{
		embeddingModel: defaultEmbeddingModel,
		insightsModel:  defaultInsightsModel,
		dimensions:     defaultDimension,
	}

	for _, opt := range opts {
		opt(client)
	}

	sdkOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, client.requestOpts...)
	client.sdk = openaisdk.NewClient(sdkOpts...)

	return client
}

// EmbeddingModel returns the configured embedding model.
func (c *Client) EmbeddingModel() string { return c.embeddingModel }

// InsightsModel returns the configured insights model.
func (c *Client) InsightsModel() string { return c.insightsModel }

// Embedding is one embedding response.
type Embedding struct {
	Vector       []float32
	Model        string
	PromptTokens int64
}

// CreateEmbedding returns the embedding vector for the given text.
// The returned slice length equals the configured dimensions.
func (c *Client) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	emb, err := c.Embed(ctx, input)
	if err != nil {
		return nil, err
	}

	return emb.Vector, nil
}

// Embed is CreateEmbedding plus the served model and token usage.
func (c *Client) Embed(ctx context.Context, input string) (*Embedding, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	if c.dimensions <= 0 {
		return nil, ErrInvalidDims
	}

	resp, err := c.sdk.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfString: param.NewOpt(input),
		},
		Model:      openaisdk.EmbeddingModel(c.embeddingModel),
		Dimensions: param.NewOpt(int64(c.dimensions)),
	})
	if err != nil {
		return nil, capabilityError("embedding", fmt.Errorf("openai embedding: %w", err))
	}

	if len(resp.Data) == 0 {
		return nil, ErrNoEmbeddingInResponse
	}

	emb := resp.Data[0].Embedding
	if len(emb) != c.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(emb), c.dimensions)
	}

	out := make([]float32, len(emb))
	for i := range emb {
		out[i] = float32(emb[i])
	}

	model := resp.Model
	if model == "" {
		model = c.embeddingModel
	}

	return &Embedding{Vector: out, Model: model, PromptTokens: resp.Usage.PromptTokens}, nil
}
