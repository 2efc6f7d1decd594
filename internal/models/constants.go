package models

import "time"

const (
	// DefaultWorkerCount is the size of the worker pool.
	DefaultWorkerCount = 4

	// DefaultPollInterval is how often an idle worker re-checks the queue.
	DefaultPollInterval = 2 * time.Second

	// DefaultJobTimeout bounds a single job execution.
	DefaultJobTimeout = 30 * time.Minute

	// DefaultPageSize is the connector fetch page size.
	DefaultPageSize = 50

	// Retry policy defaults for retryable connector errors.
	DefaultMaxRetries    = 3
	DefaultInitialDelay  = 2 * time.Second
	DefaultMaxDelay      = time.Minute
	DefaultBackoffFactor = 2.0
	DefaultRetryJitter   = 0.2

	// DefaultListLimit and MaxListLimit bound job listing pages.
	DefaultListLimit = 50
	MaxListLimit     = 100

	// DefaultJobRetentionDays is how long terminal jobs are kept before
	// the daily cleanup removes them.
	DefaultJobRetentionDays = 30
)

// Reconciliation score policy defaults. Scores at or above AutoAccept are
// mapped silently; scores in [Suggest, AutoAccept) are surfaced for human
// confirmation; two or more candidates at or above Conflict within
// AmbiguityMargin of the best are reported as a conflict.
const (
	DefaultAutoAcceptThreshold = 0.8
	DefaultSuggestThreshold    = 0.5
	DefaultConflictThreshold   = 0.75
	DefaultAmbiguityMargin     = 0.05
)
