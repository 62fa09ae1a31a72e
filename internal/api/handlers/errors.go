package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/callinsights/hub/internal/api/middleware"
	"github.com/callinsights/hub/internal/api/response"
	"github.com/callinsights/hub/internal/api/validation"
	"github.com/callinsights/hub/internal/huberrors"
)

// respondServiceError maps domain errors to problem responses. Unknown errors are logged and
// answered with a generic 500 so internals never leak to clients.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		dup    *huberrors.DuplicateActiveJobError
		capErr *huberrors.ExternalCapabilityError
	)

	switch {
	case errors.As(err, &dup):
		response.RespondConflict(w, err.Error(), dup.ActiveJobID)
	case errors.Is(err, huberrors.ErrValidation):
		response.RespondBadRequest(w, err.Error())
	case errors.Is(err, huberrors.ErrEmptyContent), errors.Is(err, huberrors.ErrDimensionMismatch):
		response.RespondUnprocessableEntity(w, err.Error())
	case errors.Is(err, huberrors.ErrEntityNotFound):
		response.RespondNotFound(w, err.Error())
	case errors.Is(err, huberrors.ErrAccessDenied):
		response.RespondForbidden(w, err.Error())
	case errors.As(err, &capErr):
		slog.WarnContext(r.Context(), "external capability failed", "capability", capErr.Capability, "error", err)

		if capErr.Transient {
			response.RespondServiceUnavailable(w, capErr.Capability+" is temporarily unavailable")

			return
		}

		response.RespondError(w, http.StatusBadGateway, "Bad Gateway", capErr.Capability+" request failed")
	default:
		slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.RespondInternalServerError(w, "An unexpected error occurred")
	}
}

// callerFrom returns the authenticated owner, answering 401 when Auth did not run.
func callerFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, ok := middleware.OwnerFromContext(r.Context())
	if !ok {
		response.RespondUnauthorized(w, "Missing caller identity")

		return "", false
	}

	return owner, true
}

// pathUUID parses the named path value, answering 400 when it is missing or malformed.
func pathUUID(w http.ResponseWriter, r *http.Request, name, label string) (uuid.UUID, bool) {
	raw := r.PathValue(name)
	if raw == "" {
		response.RespondBadRequest(w, label+" ID is required")

		return uuid.Nil, false
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		response.RespondBadRequest(w, "Invalid "+label+" ID")

		return uuid.Nil, false
	}

	return id, true
}

// decodeBody decodes a JSON body into dst, rejecting unknown fields, then validates it.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if middleware.RespondIfBodyTooLarge(w, r, err) {
			return false
		}

		response.RespondBadRequest(w, "Invalid request body")

		return false
	}

	if err := validation.ValidateStruct(dst); err != nil {
		validation.RespondValidationError(w, err)

		return false
	}

	return true
}
