package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/callinsights/hub/internal/api/response"
)

const healthCheckTimeout = 3 * time.Second

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HealthResponse is the /health body.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HealthHandler reports liveness plus the state of Postgres and Redis when they are configured.
type HealthHandler struct {
	checks map[string]HealthCheck
}

// NewHealthHandler creates a health handler. With no checks it is a plain liveness probe.
func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Check handles GET /health. Dependencies are probed in parallel; any failure answers 503
// naming the failing dependencies.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		g      errgroup.Group
		states = make(map[string]string, len(h.checks))
		failed []string
	)

	for name, check := range h.checks {
		g.Go(func() error {
			err := check(ctx)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				slog.WarnContext(ctx, "health check failed", "dependency", name, "error", err)

				states[name] = "unavailable"
				failed = append(failed, name)

				return nil
			}

			states[name] = "ok"

			return nil
		})
	}

	_ = g.Wait()

	if len(failed) > 0 {
		sort.Strings(failed)
		response.RespondServiceUnavailable(w, strings.Join(failed, ", ")+" unavailable")

		return
	}

	body := HealthResponse{Status: "ok"}
	if len(states) > 0 {
		body.Checks = states
	}

	response.RespondJSON(w, http.StatusOK, body)
}
