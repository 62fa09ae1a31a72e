package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// responseWriter captures the status code. It forwards Flush so streaming handlers keep working.
type responseWriter struct {
	http.ResponseWriter

	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}

	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	rw.wroteHeader = true

	return rw.ResponseWriter.Write(p) //nolint:wrapcheck // passthrough
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Logging writes one access log record per request. Use the request context so
// request_id and trace ids are attached by the TraceContextHandler.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if owner, ok := OwnerFromContext(r.Context()); ok {
			attrs = append(attrs, "owner_id", owner)
		}

		switch {
		case rw.statusCode >= http.StatusInternalServerError:
			slog.ErrorContext(r.Context(), "HTTP request", attrs...)
		case rw.statusCode >= http.StatusBadRequest:
			slog.WarnContext(r.Context(), "HTTP request", attrs...)
		default:
			slog.InfoContext(r.Context(), "HTTP request", attrs...)
		}
	})
}
