package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/callinsights/hub/internal/observability"
)

// Metrics records request count and duration per normalized route. A nil metrics skips recording.
// Put it outside Logging so the duration covers the whole request.
func Metrics(metrics observability.HTTPMetrics) func(http.Handler) http.Handler {
	if metrics == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			metrics.RecordRequest(r.Context(), r.Method, normalizeRoute(r.URL.Path),
				statusToClass(rw.statusCode), time.Since(start))
		})
	}
}

// normalizeRoute replaces call and job IDs with {id} so the route label stays bounded.
func normalizeRoute(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if len(seg) != 36 {
			continue
		}

		if _, err := uuid.Parse(seg); err == nil {
			segments[i] = "{id}"
		}
	}

	return strings.Join(segments, "/")
}

func statusToClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}

	return string(rune('0'+status/100)) + "xx"
}
