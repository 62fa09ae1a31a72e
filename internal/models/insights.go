package models

// Sentiment values produced by insight generation.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
	SentimentMixed    = "mixed"
)

// CallInsights is the structured payload produced by the insights capability.
type CallInsights struct {
	Summary     string             `json:"summary"`
	Sentiment   string             `json:"sentiment"`
	Outcome     string             `json:"outcome"`
	RedFlags    []string           `json:"red_flags"`
	ActionItems []string           `json:"action_items"`
	Topics      []string           `json:"topics"`
	QACriteria  []QACriterionScore `json:"qa_criteria,omitempty"`
}

// Transcription is the artifact produced by the transcription capability.
type Transcription struct {
	Text            string  `json:"text"`
	Language        string  `json:"language,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}
