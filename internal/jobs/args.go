// Package jobs holds the River job arguments and the River-backed job dispatcher.
package jobs

import (
	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// QueueEnrichment is the River queue enrichment jobs run on.
const QueueEnrichment = "enrichment"

// EnrichmentJobArgs points a River job at an enrichment job row. The row, not River, is the
// source of truth for status.
type EnrichmentJobArgs struct {
	JobID   uuid.UUID `json:"job_id"`
	CallID  uuid.UUID `json:"call_id"`
	JobType string    `json:"job_type"`
}

// Kind returns the job type identifier for River
func (EnrichmentJobArgs) Kind() string { return "enrichment" }

// InsertOpts disables River retries: a failed enrichment stays failed until the caller
// submits a new request.
func (EnrichmentJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueEnrichment,
		MaxAttempts: 1,
	}
}
