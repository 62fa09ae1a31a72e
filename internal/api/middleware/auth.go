// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/callinsights/hub/internal/api/response"
)

type contextKey string

// OwnerContextKey holds the caller identity taken from X-Owner-ID.
const OwnerContextKey contextKey = "owner_id"

// OwnerHeader names the caller on every /v1 request.
const OwnerHeader = "X-Owner-ID"

const maxOwnerIDLength = 255

// Auth validates the Authorization bearer token against apiKey and requires X-Owner-ID.
// The owner is stored in the request context for ownership checks downstream.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.RespondUnauthorized(w, "Missing Authorization header")

				return
			}

			// Expected format: "Bearer <api-key>"
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				response.RespondUnauthorized(w, "Invalid Authorization header format. Expected: Bearer <api-key>")

				return
			}

			key := strings.TrimSpace(parts[1])
			if key == "" {
				response.RespondUnauthorized(w, "API key is empty")

				return
			}

			if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
				response.RespondUnauthorized(w, "Invalid API key")

				return
			}

			owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
			if owner == "" || len(owner) > maxOwnerIDLength {
				response.RespondUnauthorized(w, "Missing or invalid "+OwnerHeader+" header")

				return
			}

			ctx := context.WithValue(r.Context(), OwnerContextKey, owner)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OwnerFromContext returns the caller set by Auth.
func OwnerFromContext(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(OwnerContextKey).(string)

	return owner, ok && owner != ""
}

// WithOwner returns ctx carrying owner, as Auth would set it.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, OwnerContextKey, owner)
}
