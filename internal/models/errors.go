package models

import "errors"

// Domain errors surfaced synchronously at the API boundary.
// Wrap with fmt.Errorf("%w: detail") and test with errors.Is.
var (
	// ErrValidation covers malformed requests: unknown integration,
	// invalid enum value, missing field.
	ErrValidation = errors.New("validation error")

	// ErrConflict means a job for the same (integration_id, sync_type)
	// is already queued or running.
	ErrConflict = errors.New("sync already in flight for integration and type")

	// ErrInvalidState means the requested transition is not legal from
	// the job's current status.
	ErrInvalidState = errors.New("invalid job state for requested operation")

	// ErrNotFound means the referenced job or mapping does not exist.
	ErrNotFound = errors.New("not found")

	// ErrJobTimeout marks a job that exceeded its maximum allowed duration.
	ErrJobTimeout = errors.New("job exceeded maximum duration")
)
