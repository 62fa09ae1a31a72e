// Package embeddings provides the deterministic embedding client used with EMBEDDING_PROVIDER=mock.
package embeddings

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/callinsights/hub/pkg/embeddings"
)

// ErrEmptyText is returned for blank input.
var ErrEmptyText = errors.New("embeddings: text cannot be empty")

// MockModel is the model name recorded for mock embeddings.
const MockModel = "mock-embedding"

// MockClient hashes lowercase word tokens into a fixed number of buckets and L2-normalizes the
// counts. Texts sharing vocabulary get higher cosine similarity, so search behaves plausibly
// without a provider.
type MockClient struct {
	dimensions int
}

// NewMockClient creates a mock client. Default dimensions is 1536 to match text-embedding-3-small.
func NewMockClient() *MockClient {
	return &MockClient{dimensions: 1536}
}

// NewMockClientWithDimensions creates a mock client with custom dimensions.
func NewMockClientWithDimensions(dimensions int) *MockClient {
	return &MockClient{dimensions: dimensions}
}

// Model returns MockModel.
func (c *MockClient) Model() string { return MockModel }

// CreateEmbedding returns the same vector for the same text.
func (c *MockClient) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(tokens) == 0 {
		return nil, ErrEmptyText
	}

	vector := make([]float32, c.dimensions)

	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()

		idx := int(sum % uint64(c.dimensions))
		if sum&(1<<63) != 0 {
			vector[idx]--
		} else {
			vector[idx]++
		}
	}

	embeddings.NormalizeL2(vector)

	return vector, nil
}
