package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/callinsights/hub/internal/api/response"
	"github.com/callinsights/hub/internal/api/validation"
	"github.com/callinsights/hub/internal/models"
	"github.com/callinsights/hub/internal/service"
)

const sseKeepAliveInterval = 15 * time.Second

// JobsService defines the read side of enrichment jobs.
type JobsService interface {
	GetJob(ctx context.Context, caller string, id uuid.UUID) (*models.Job, error)
	ListJobsForCall(ctx context.Context, caller string, callID uuid.UUID) ([]models.Job, error)
	ListJobs(ctx context.Context, caller string, filters models.ListJobsFilters) ([]models.Job, error)
}

// JobSubscriber streams job events for one job.
type JobSubscriber interface {
	Subscribe(jobID uuid.UUID) (<-chan service.JobEvent, func())
}

// ListJobsResponse wraps job lists.
type ListJobsResponse struct {
	Data []models.Job `json:"data"`
}

// JobsHandler serves job status, both polled and streamed.
type JobsHandler struct {
	service    JobsService
	subscriber JobSubscriber
	keepAlive  time.Duration
}

// NewJobsHandler creates a new jobs handler. subscriber may be nil, which disables the event stream.
func NewJobsHandler(service JobsService, subscriber JobSubscriber) *JobsHandler {
	return &JobsHandler{service: service, subscriber: subscriber, keepAlive: sseKeepAliveInterval}
}

// Get handles GET /v1/jobs/{id}. This is the authoritative polling endpoint.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	id, ok := pathUUID(w, r, "id", "Job")
	if !ok {
		return
	}

	job, err := h.service.GetJob(r.Context(), caller, id)
	if err != nil {
		respondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, job)
}

// ListForCall handles GET /v1/calls/{id}/jobs.
func (h *JobsHandler) ListForCall(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	callID, ok := pathUUID(w, r, "id", "Call")
	if !ok {
		return
	}

	jobs, err := h.service.ListJobsForCall(r.Context(), caller, callID)
	if err != nil {
		respondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, ListJobsResponse{Data: nonNil(jobs)})
}

// List handles GET /v1/jobs?status=active|pending|processing|completed|failed.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var filters models.ListJobsFilters
	if err := validation.ValidateAndDecodeQueryParams(r, &filters); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	jobs, err := h.service.ListJobs(r.Context(), caller, filters)
	if err != nil {
		respondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, ListJobsResponse{Data: nonNil(jobs)})
}

// Events handles GET /v1/jobs/{id}/events as a Server-Sent Events stream.
// The first event is a snapshot of the current job; the stream ends after a terminal event.
// Events may be dropped under load, so clients fall back to polling Get.
func (h *JobsHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.subscriber == nil {
		response.RespondServiceUnavailable(w, "Job event stream is not available")

		return
	}

	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	id, ok := pathUUID(w, r, "id", "Job")
	if !ok {
		return
	}

	ctx := r.Context()

	// Subscribe before the snapshot read so a transition between the two is not lost.
	events, cancel := h.subscriber.Subscribe(id)
	defer cancel()

	job, err := h.service.GetJob(ctx, caller, id)
	if err != nil {
		respondServiceError(w, r, err)

		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		slog.DebugContext(ctx, "sse: write deadline not adjustable", "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	snapshot := service.JobEvent{ID: uuid.Must(uuid.NewV7()), Type: snapshotType(job.Status), Job: *job, Timestamp: time.Now().UTC()}
	if err := writeSSE(w, rc, snapshot); err != nil || job.Status.IsTerminal() {
		return
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}

			if err := rc.Flush(); err != nil {
				return
			}
		case event, open := <-events:
			if !open {
				return
			}

			if err := writeSSE(w, rc, event); err != nil {
				slog.DebugContext(ctx, "sse: client went away", "job_id", id, "error", err)

				return
			}

			if event.Type.IsTerminal() {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, rc *http.ResponseController, event service.JobEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}

	if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, data); err != nil {
		return fmt.Errorf("write job event: %w", err)
	}

	if err := rc.Flush(); err != nil {
		return fmt.Errorf("flush job event: %w", err)
	}

	return nil
}

func snapshotType(status models.JobStatus) service.JobEventType {
	switch status {
	case models.JobStatusProcessing:
		return service.JobEventProcessing
	case models.JobStatusCompleted:
		return service.JobEventCompleted
	case models.JobStatusFailed:
		return service.JobEventFailed
	default:
		return service.JobEventCreated
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}

	return items
}
