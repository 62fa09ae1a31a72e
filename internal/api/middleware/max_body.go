package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/callinsights/hub/internal/api/response"
)

// RequestBodyTooLargeRecorder records when a request is rejected for exceeding the body limit.
// Pass nil when metrics are disabled.
type RequestBodyTooLargeRecorder interface {
	RecordRequestBodyTooLarge(ctx context.Context)
}

type bodyLimitKey struct{}

type bodyLimit struct {
	recorder RequestBodyTooLargeRecorder
}

// MaxBody caps request bodies at maxBytes. Requests that declare a larger Content-Length are
// rejected with 413 before the handler runs; chunked bodies are cut off by http.MaxBytesReader
// and the handler reports the overflow through RespondIfBodyTooLarge.
// maxBytes <= 0 disables the limit.
func MaxBody(maxBytes int64, recorder RequestBodyTooLargeRecorder) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	limit := &bodyLimit{recorder: recorder}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				limit.reject(w, r)

				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), bodyLimitKey{}, limit)))
		})
	}
}

// RespondIfBodyTooLarge writes 413 and returns true when err came from an exceeded body limit.
func RespondIfBodyTooLarge(w http.ResponseWriter, r *http.Request, err error) bool {
	var tooLarge *http.MaxBytesError
	if !errors.As(err, &tooLarge) {
		return false
	}

	limit, _ := r.Context().Value(bodyLimitKey{}).(*bodyLimit)
	limit.reject(w, r)

	return true
}

func (l *bodyLimit) reject(w http.ResponseWriter, r *http.Request) {
	if l != nil && l.recorder != nil {
		l.recorder.RecordRequestBodyTooLarge(r.Context())
	}

	response.RespondError(w, http.StatusRequestEntityTooLarge,
		"Request Entity Too Large", "request body exceeds maximum allowed size")
}
