package generators

import (
	"strings"

	"github.com/callinsights/hub/internal/models"
)

// Price is the list price of a model in USD.
type Price struct {
	PromptPerMillion     float64
	CompletionPerMillion float64
	PerAudioMinute       float64
}

// Pricing maps model names (or name prefixes, for dated snapshots) to prices.
type Pricing map[string]Price

// DefaultPricing covers the models the hub uses out of the box. Unknown models cost zero.
func DefaultPricing() Pricing {
	return Pricing{
		"gpt-4o-mini":            {PromptPerMillion: 0.15, CompletionPerMillion: 0.60},
		"gpt-4o":                 {PromptPerMillion: 2.50, CompletionPerMillion: 10.00},
		"gpt-4.1-mini":           {PromptPerMillion: 0.40, CompletionPerMillion: 1.60},
		"text-embedding-3-small": {PromptPerMillion: 0.02},
		"text-embedding-3-large": {PromptPerMillion: 0.13},
		"gemini-embedding-001":   {PromptPerMillion: 0.15},
		"whisper-1":              {PerAudioMinute: 0.006},
	}
}

// lookup matches exactly first, then the longest prefix.
func (p Pricing) lookup(model string) Price {
	if price, ok := p[model]; ok {
		return price
	}

	best := ""

	for name := range p {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}

	return p[best]
}

// TokenUsage prices a token-metered call.
func (p Pricing) TokenUsage(model string, prompt, completion int64) models.Usage {
	price := p.lookup(model)

	return models.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		CostUSD: (float64(prompt)*price.PromptPerMillion +
			float64(completion)*price.CompletionPerMillion) / 1e6,
	}
}

// AudioUsage prices a transcription by duration.
func (p Pricing) AudioUsage(model string, seconds float64) models.Usage {
	return models.Usage{CostUSD: p.lookup(model).PerAudioMinute * seconds / 60}
}
