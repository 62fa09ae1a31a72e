// Package whisper transcribes call recordings with the OpenAI audio API.
package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/callinsights/hub/internal/huberrors"
	"github.com/callinsights/hub/internal/models"
)

// ErrEmptyAudio is returned for a zero-length recording.
var ErrEmptyAudio = errors.New("whisper: audio is empty")

const defaultModel = openai.Whisper1

// Client wraps go-openai's transcription endpoint.
type Client struct {
	client *openai.Client
	model  string
}

// ClientOption configures the Client.
type ClientOption func(*openai.ClientConfig, *Client)

// WithModel sets the transcription model. Empty keeps whisper-1.
func WithModel(model string) ClientOption {
	return func(_ *openai.ClientConfig, c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(baseURL string) ClientOption {
	return func(cfg *openai.ClientConfig, _ *Client) {
		cfg.BaseURL = baseURL
	}
}

// NewClient creates a transcription client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	cfg := openai.DefaultConfig(apiKey)
	c := &Client{model: defaultModel}

	for _, opt := range opts {
		opt(&cfg, c)
	}

	c.client = openai.NewClientWithConfig(cfg)

	return c
}

// Model returns the configured transcription model.
func (c *Client) Model() string { return c.model }

// Transcribe sends the recording and returns text, detected language and duration.
func (c *Client) Transcribe(ctx context.Context, filename string, audio []byte) (*models.Transcription, error) {
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}

	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, huberrors.NewExternalCapabilityError("transcription", isTransient(err),
			fmt.Errorf("openai transcription: %w", err))
	}

	return &models.Transcription{
		Text:            strings.TrimSpace(resp.Text),
		Language:        resp.Language,
		DurationSeconds: resp.Duration,
	}, nil
}

func isTransient(err error) bool {
	status := 0

	var apiErr *openai.APIError

	var reqErr *openai.RequestError

	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return errors.Is(err, context.DeadlineExceeded)
	}

	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}
