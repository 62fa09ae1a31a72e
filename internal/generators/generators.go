// Package generators adapts the external capability clients to service.Generator.
package generators

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/callinsights/hub/internal/audio"
	"github.com/callinsights/hub/internal/huberrors"
	"github.com/callinsights/hub/internal/models"
	"github.com/callinsights/hub/internal/openai"
	"github.com/callinsights/hub/internal/service"
)

// AudioFetcher downloads a recording. Implemented by audio.Fetcher.
type AudioFetcher interface {
	Fetch(ctx context.Context, audioURL string) (*audio.Recording, error)
}

// Transcriber turns audio into text. Implemented by whisper.Client.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, data []byte) (*models.Transcription, error)
	Model() string
}

// InsightsClient produces CallInsights from a transcript. Implemented by openai.Client.
type InsightsClient interface {
	GenerateInsights(ctx context.Context, transcript string) (*openai.Insights, error)
}

// usageEmbedder is implemented by embedders that report token usage (openai.Client).
type usageEmbedder interface {
	Embed(ctx context.Context, input string) (*openai.Embedding, error)
}

// InsightsSource returns the latest stored artifact for a call. Implemented by every
// service.EnrichmentCache.
type InsightsSource interface {
	Latest(ctx context.Context, callID uuid.UUID, contentType models.ContentType) (*models.CacheEntry, error)
}

// Transcription downloads the call's recording and transcribes it.
type Transcription struct {
	Fetcher     AudioFetcher
	Transcriber Transcriber
	Pricing     Pricing
}

// Generate implements service.Generator. in.Text is the audio URL.
func (g *Transcription) Generate(ctx context.Context, in service.GenerateInput) (*service.GenerateOutput, error) {
	report(in, "downloading audio", 20)

	rec, err := g.Fetcher.Fetch(ctx, in.Text)
	if err != nil {
		return nil, err
	}

	report(in, "transcribing", 40)

	t, err := g.Transcriber.Transcribe(ctx, rec.Filename, rec.Data)
	if err != nil {
		return nil, err
	}

	if t.Text == "" {
		return nil, huberrors.NewExternalCapabilityError("transcription", false, errors.New("empty transcript returned"))
	}

	artifact, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode transcription: %w", err)
	}

	model := g.Transcriber.Model()

	return &service.GenerateOutput{
		Model:    model,
		Artifact: artifact,
		Usage:    g.Pricing.AudioUsage(model, t.DurationSeconds),
	}, nil
}

// Insights generates CallInsights from the transcript.
type Insights struct {
	Client  InsightsClient
	Pricing Pricing
}

// Generate implements service.Generator.
func (g *Insights) Generate(ctx context.Context, in service.GenerateInput) (*service.GenerateOutput, error) {
	report(in, "analysing transcript", 30)

	out, err := g.Client.GenerateInsights(ctx, in.Text)
	if err != nil {
		return nil, err
	}

	return &service.GenerateOutput{
		Model:    out.Model,
		Artifact: out.Raw,
		Usage:    g.Pricing.TokenUsage(out.Model, out.PromptTokens, out.CompletionTokens),
	}, nil
}

// Embedding embeds the transcript and attaches filter metadata from the call and, when
// present, its latest insights.
type Embedding struct {
	Embedder service.EmbeddingClient
	Model    string
	Insights InsightsSource
	Pricing  Pricing
}

// Generate implements service.Generator.
func (g *Embedding) Generate(ctx context.Context, in service.GenerateInput) (*service.GenerateOutput, error) {
	report(in, "embedding transcript", 30)

	var (
		vector []float32
		usage  models.Usage
		model  = g.Model
	)

	if ue, ok := g.Embedder.(usageEmbedder); ok {
		emb, err := ue.Embed(ctx, in.Text)
		if err != nil {
			return nil, err
		}

		vector = emb.Vector
		usage = g.Pricing.TokenUsage(emb.Model, emb.PromptTokens, 0)
	} else {
		v, err := g.Embedder.CreateEmbedding(ctx, in.Text)
		if err != nil {
			return nil, err
		}

		vector = v
	}

	if len(vector) == 0 {
		return nil, huberrors.NewExternalCapabilityError("embedding", false, errors.New("empty vector returned"))
	}

	metadata := CallMetadata(in.Call)
	g.applyInsights(ctx, in.Call.ID, &metadata)

	artifact, err := json.Marshal(map[string]int{"dimensions": len(vector)})
	if err != nil {
		return nil, fmt.Errorf("encode embedding artifact: %w", err)
	}

	return &service.GenerateOutput{
		Model:     model,
		Artifact:  artifact,
		Embedding: vector,
		Metadata:  &metadata,
		Usage:     usage,
	}, nil
}

// applyInsights copies sentiment, outcome and flags from the latest insights, if any.
// A missing or unreadable insights entry leaves those fields unset.
func (g *Embedding) applyInsights(ctx context.Context, callID uuid.UUID, md *models.EmbeddingMetadata) {
	if g.Insights == nil {
		return
	}

	entry, err := g.Insights.Latest(ctx, callID, models.ContentTypeTranscriptForInsights)
	if err != nil {
		return
	}

	var insights models.CallInsights
	if err := json.Unmarshal(entry.Artifact, &insights); err != nil {
		return
	}

	md.ApplyInsights(models.FiltersFromInsights(insights))
}

// CallMetadata copies the call's own filterable fields.
func CallMetadata(call *models.Call) models.EmbeddingMetadata {
	return models.EmbeddingMetadata{
		DurationSeconds: call.DurationSeconds,
		CalledAt:        call.CalledAt,
		Language:        call.Language,
	}
}

func report(in service.GenerateInput, message string, progress int) {
	if in.Progress != nil {
		in.Progress(models.JobProgress{Stage: models.StageGenerating, Progress: progress, Message: message})
	}
}

var (
	_ service.Generator = (*Transcription)(nil)
	_ service.Generator = (*Insights)(nil)
	_ service.Generator = (*Embedding)(nil)
)
