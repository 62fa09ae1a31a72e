package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"

	"github.com/callinsights/hub/internal/models"
)

// ErrNoInsightsInResponse is returned when the completion has no usable message.
var ErrNoInsightsInResponse = errors.New("openai: no insights in response")

const insightsSystemPrompt = `You analyse sales and support call transcripts.
Reply with one JSON object with these keys:
"summary" (string, at most 5 sentences),
"sentiment" (one of "positive", "neutral", "negative", "mixed"),
"outcome" (short snake_case label such as "closed_won", "follow_up", "churn_risk", "resolved", "unresolved"),
"red_flags" (array of strings),
"action_items" (array of strings),
"topics" (array of strings),
"qa_criteria" (array of objects with "name", "category", "weight", "applicable", "score", "notes";
score is between 0 and weight, applicable is false when the criterion did not come up in the call).`

// Insights is one insights completion.
type Insights struct {
	Insights         models.CallInsights
	Raw              json.RawMessage
	Model            string
	PromptTokens     int64
	CompletionTokens int64
}

// GenerateInsights asks the insights model for a CallInsights JSON object.
func (c *Client) GenerateInsights(ctx context.Context, transcript string) (*Insights, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, ErrEmptyInput
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: shared.ChatModel(c.insightsModel),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(insightsSystemPrompt),
			openaisdk.UserMessage(transcript),
		},
		ResponseFormat: openaisdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return nil, capabilityError("insights", fmt.Errorf("openai chat completion: %w", err))
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, ErrNoInsightsInResponse
	}

	raw := json.RawMessage(resp.Choices[0].Message.Content)

	var insights models.CallInsights
	if err := json.Unmarshal(raw, &insights); err != nil {
		return nil, fmt.Errorf("decode insights: %w", err)
	}

	normalized, err := json.Marshal(insights)
	if err != nil {
		return nil, fmt.Errorf("encode insights: %w", err)
	}

	model := resp.Model
	if model == "" {
		model = c.insightsModel
	}

	return &Insights{
		Insights:         insights,
		Raw:              normalized,
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}
