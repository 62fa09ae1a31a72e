// Package audio downloads call recordings for transcription.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/callinsights/hub/internal/huberrors"
)

const (
	defaultTimeout  = 60 * time.Second
	defaultRetryMax = 3
	// 25 MB is the Whisper upload limit.
	defaultMaxBytes = 25 << 20
)

// ErrTooLarge is returned when a recording exceeds the configured size limit.
var ErrTooLarge = errors.New("audio: recording exceeds size limit")

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	// Timeout bounds each attempt (default: 60 seconds)
	Timeout time.Duration
	// RetryMax is the maximum number of retries (default: 3)
	RetryMax int
	// MaxBytes caps the download size (default: 25 MB)
	MaxBytes int64
}

// Recording is a downloaded audio file.
type Recording struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Fetcher downloads recordings with retries on connection errors and 5xx responses.
type Fetcher struct {
	httpClient *retryablehttp.Client
	maxBytes   int64
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}

	if opts.RetryMax == 0 {
		opts.RetryMax = defaultRetryMax
	}

	if opts.MaxBytes == 0 {
		opts.MaxBytes = defaultMaxBytes
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.HTTPClient.Timeout = opts.Timeout
	retryClient.Logger = nil

	return &Fetcher{httpClient: retryClient, maxBytes: opts.MaxBytes}
}

// Fetch downloads audioURL. Failures are ExternalCapabilityErrors for "audio";
// exhausted retries are transient and 4xx responses are permanent.
func (f *Fetcher) Fetch(ctx context.Context, audioURL string) (*Recording, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, huberrors.NewExternalCapabilityError("audio", false, fmt.Errorf("create request: %w", err))
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, huberrors.NewExternalCapabilityError("audio", true, fmt.Errorf("download recording: %w", err))
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.ErrorContext(ctx, "Failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, huberrors.NewExternalCapabilityError("audio",
			resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError,
			fmt.Errorf("download recording: status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, huberrors.NewExternalCapabilityError("audio", true, fmt.Errorf("read recording: %w", err))
	}

	if int64(len(data)) > f.maxBytes {
		return nil, huberrors.NewExternalCapabilityError("audio", false, ErrTooLarge)
	}

	return &Recording{
		Data:        data,
		Filename:    filename(audioURL),
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// filename returns the last URL path segment; the transcription API infers the format from it.
func filename(audioURL string) string {
	u, err := url.Parse(audioURL)
	if err != nil {
		return "recording.mp3"
	}

	name := path.Base(u.Path)
	if name == "." || name == "/" || path.Ext(name) == "" {
		return "recording.mp3"
	}

	return name
}
