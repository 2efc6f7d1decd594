package repository

import (
	"context"
	"time"
)

// CancelFlags is the fast path for cooperative cancellation: workers
// poll it between pages instead of hitting the job store. The flag is
// advisory; the database column stays the source of truth.
type CancelFlags interface {
	// Set raises the cancel flag for a job.
	Set(ctx context.Context, jobID string) error
	// IsSet reports whether the flag is raised.
	IsSet(ctx context.Context, jobID string) (bool, error)
	// Clear drops the flag once the worker has acknowledged it.
	Clear(ctx context.Context, jobID string) error
}

// Flags expire on their own so a crashed worker never leaves one behind.
const defaultFlagTTL = time.Hour
