// Package huberrors provides sentinel and custom error types for the enrichment hub.
//
// Every type implements Is by type assertion so callers can match with
// errors.Is(err, huberrors.ErrXxx) regardless of the concrete field values.
package huberrors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrCacheMiss is returned by enrichment cache backends when no entry matches.
// It is a control-flow signal, not a failure.
var ErrCacheMiss = errors.New("enrichment cache miss")

// ErrEntityNotFound represents a missing call, job, or cache entry.
var ErrEntityNotFound = &EntityNotFoundError{}

// EntityNotFoundError is returned when a requested resource doesn't exist.
type EntityNotFoundError struct {
	Resource string
	ID       string
}

// NewEntityNotFoundError creates a new EntityNotFoundError.
func NewEntityNotFoundError(resource, id string) *EntityNotFoundError {
	return &EntityNotFoundError{Resource: resource, ID: id}
}

// Error implements the error interface.
func (e *EntityNotFoundError) Error() string {
	switch {
	case e.Resource != "" && e.ID != "":
		return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
	case e.Resource != "":
		return e.Resource + " not found"
	default:
		return "resource not found"
	}
}

// Is implements the error interface for error comparison.
func (e *EntityNotFoundError) Is(target error) bool {
	_, ok := target.(*EntityNotFoundError)

	return ok
}

// ErrAccessDenied represents a caller that does not own the requested entity.
var ErrAccessDenied = &AccessDeniedError{}

// AccessDeniedError is returned when the caller is not the entity owner.
type AccessDeniedError struct {
	Resource string
	ID       string
}

// NewAccessDeniedError creates a new AccessDeniedError.
func NewAccessDeniedError(resource, id string) *AccessDeniedError {
	return &AccessDeniedError{Resource: resource, ID: id}
}

// Error implements the error interface.
func (e *AccessDeniedError) Error() string {
	if e.Resource != "" {
		return "access denied to " + e.Resource + " " + e.ID
	}

	return "access denied"
}

// Is implements the error interface for error comparison.
func (e *AccessDeniedError) Is(target error) bool {
	_, ok := target.(*AccessDeniedError)

	return ok
}

// ErrEmptyContent is returned when there is nothing to hash or enrich.
var ErrEmptyContent = &EmptyContentError{}

// EmptyContentError is returned for empty or "too short" content.
type EmptyContentError struct {
	ContentType string
}

// NewEmptyContentError creates a new EmptyContentError.
func NewEmptyContentError(contentType string) *EmptyContentError {
	return &EmptyContentError{ContentType: contentType}
}

// Error implements the error interface.
func (e *EmptyContentError) Error() string {
	if e.ContentType != "" {
		return "no content to enrich for " + e.ContentType
	}

	return "no content to enrich"
}

// Is implements the error interface for error comparison.
func (e *EmptyContentError) Is(target error) bool {
	_, ok := target.(*EmptyContentError)

	return ok
}

// ErrDuplicateActiveJob is returned when a pending or processing job already exists for (call, job type).
var ErrDuplicateActiveJob = &DuplicateActiveJobError{}

// DuplicateActiveJobError carries the active job (when known) so callers can poll it instead of retrying.
type DuplicateActiveJobError struct {
	CallID      uuid.UUID
	JobType     string
	ActiveJobID uuid.UUID
}

// NewDuplicateActiveJobError creates a new DuplicateActiveJobError.
func NewDuplicateActiveJobError(callID uuid.UUID, jobType string, activeJobID uuid.UUID) *DuplicateActiveJobError {
	return &DuplicateActiveJobError{CallID: callID, JobType: jobType, ActiveJobID: activeJobID}
}

// Error implements the error interface.
func (e *DuplicateActiveJobError) Error() string {
	if e.ActiveJobID != uuid.Nil {
		return fmt.Sprintf("%s job %s already active for call %s", e.JobType, e.ActiveJobID, e.CallID)
	}

	if e.JobType != "" {
		return fmt.Sprintf("%s job already active for call %s", e.JobType, e.CallID)
	}

	return "job already active"
}

// Is implements the error interface for error comparison.
func (e *DuplicateActiveJobError) Is(target error) bool {
	_, ok := target.(*DuplicateActiveJobError)

	return ok
}

// ErrInvalidTransition is returned when a job status change violates the state machine.
var ErrInvalidTransition = &InvalidTransitionError{}

// InvalidTransitionError describes a rejected job status change.
type InvalidTransitionError struct {
	JobID uuid.UUID
	From  string
	To    string
}

// NewInvalidTransitionError creates a new InvalidTransitionError.
func NewInvalidTransitionError(jobID uuid.UUID, from, to string) *InvalidTransitionError {
	return &InvalidTransitionError{JobID: jobID, From: from, To: to}
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	if e.From == "" && e.To == "" {
		return "invalid job transition"
	}

	return fmt.Sprintf("job %s: invalid transition %s -> %s", e.JobID, e.From, e.To)
}

// Is implements the error interface for error comparison.
func (e *InvalidTransitionError) Is(target error) bool {
	_, ok := target.(*InvalidTransitionError)

	return ok
}

// ErrExternalCapability is returned when a transcription, insights, or embedding call fails.
var ErrExternalCapability = &ExternalCapabilityError{}

// ExternalCapabilityError wraps a failure of an external generator.
// Transient marks failures worth retrying (timeouts, rate limits, 5xx).
type ExternalCapabilityError struct {
	Capability string
	Transient  bool
	Err        error
}

// NewExternalCapabilityError creates a new ExternalCapabilityError.
func NewExternalCapabilityError(capability string, transient bool, err error) *ExternalCapabilityError {
	return &ExternalCapabilityError{Capability: capability, Transient: transient, Err: err}
}

// Error implements the error interface.
func (e *ExternalCapabilityError) Error() string {
	name := e.Capability
	if name == "" {
		name = "external capability"
	}

	if e.Err != nil {
		return name + " failed: " + e.Err.Error()
	}

	return name + " failed"
}

// Unwrap returns the underlying cause.
func (e *ExternalCapabilityError) Unwrap() error {
	return e.Err
}

// Is implements the error interface for error comparison.
func (e *ExternalCapabilityError) Is(target error) bool {
	_, ok := target.(*ExternalCapabilityError)

	return ok
}

// ErrDimensionMismatch is returned when a query vector's length differs from the stored vectors.
var ErrDimensionMismatch = &DimensionMismatchError{}

// DimensionMismatchError reports the expected and actual vector dimensions.
type DimensionMismatchError struct {
	Want int
	Got  int
}

// NewDimensionMismatchError creates a new DimensionMismatchError.
func NewDimensionMismatchError(want, got int) *DimensionMismatchError {
	return &DimensionMismatchError{Want: want, Got: got}
}

// Error implements the error interface.
func (e *DimensionMismatchError) Error() string {
	if e.Want == 0 && e.Got == 0 {
		return "vector dimension mismatch"
	}

	return fmt.Sprintf("vector dimension mismatch: stored %d, query %d", e.Want, e.Got)
}

// Is implements the error interface for error comparison.
func (e *DimensionMismatchError) Is(target error) bool {
	_, ok := target.(*DimensionMismatchError)

	return ok
}

// ErrValidation represents a validation error.
// Use when client input fails validation.
var ErrValidation = &ValidationError{}

// ValidationError is a sentinel error for validation failures.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a new ValidationError with a custom message.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Field != "" {
		return "validation failed for field: " + e.Field
	}

	return "validation error"
}

// Is implements the error interface for error comparison.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)

	return ok
}
