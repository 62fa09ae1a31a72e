package service

import (
	"context"
	"encoding/json"

	"github.com/callinsights/hub/internal/models"
)

// ProgressFunc receives intermediate progress from a generator. It is passed explicitly per
// invocation and is safe to call from any goroutine.
type ProgressFunc func(models.JobProgress)

// GenerateInput is what an external capability is invoked with.
type GenerateInput struct {
	Call        *models.Call
	JobType     models.JobType
	ContentType models.ContentType
	// Text is the hashed content: the audio reference for transcription, the transcript otherwise.
	Text        string
	ContentHash string
	Progress    ProgressFunc
}

// GenerateOutput is a successful generation.
type GenerateOutput struct {
	Model        string
	ModelVersion string
	Artifact     json.RawMessage
	Embedding    []float32
	Metadata     *models.EmbeddingMetadata
	Usage        models.Usage
}

// Generator wraps one external capability (transcription, insights or embedding).
// Failures should be returned as huberrors.ExternalCapabilityError so retry and
// failure messages can tell transient from permanent errors.
type Generator interface {
	Generate(ctx context.Context, in GenerateInput) (*GenerateOutput, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, in GenerateInput) (*GenerateOutput, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, in GenerateInput) (*GenerateOutput, error) {
	return f(ctx, in)
}

func (p ProgressFunc) report(progress models.JobProgress) {
	if p != nil {
		p(progress)
	}
}
