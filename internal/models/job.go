package models

import (
	"fmt"
	"time"
)

// SyncType identifies what a sync job moves between the marketplace and the ERP.
type SyncType string

const (
	SyncTypeProducts  SyncType = "products"
	SyncTypeInventory SyncType = "inventory"
	SyncTypeOrders    SyncType = "orders"
)

// ParseSyncType validates a raw sync type value.
func ParseSyncType(raw string) (SyncType, error) {
	switch SyncType(raw) {
	case SyncTypeProducts, SyncTypeInventory, SyncTypeOrders:
		return SyncType(raw), nil
	default:
		return "", fmt.Errorf("%w: invalid sync type %q, must be products, inventory or orders", ErrValidation, raw)
	}
}

// JobStatus is the lifecycle state of a sync job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are legal from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// ParseJobStatus validates a raw status value (used for list filters).
func ParseJobStatus(raw string) (JobStatus, error) {
	switch JobStatus(raw) {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return JobStatus(raw), nil
	default:
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, raw)
	}
}

// Priority orders jobs in the queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority validates a raw priority value. Empty defaults to normal.
func ParsePriority(raw string) (Priority, error) {
	if raw == "" {
		return PriorityNormal, nil
	}
	switch Priority(raw) {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return Priority(raw), nil
	default:
		return "", fmt.Errorf("%w: invalid priority %q, must be low, normal, high or urgent", ErrValidation, raw)
	}
}

// Rank maps a priority to a numeric weight for dequeue ordering.
// Higher wins. Gaps leave room for intermediate levels.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityHigh:
		return 8
	case PriorityUrgent:
		return 10
	default:
		return 5
	}
}

// SyncJob is a durable record of one synchronization run for an integration.
type SyncJob struct {
	ID              string     `json:"id"`
	IntegrationID   string     `json:"integration_id"`
	TenantID        string     `json:"tenant_id"`
	SyncType        SyncType   `json:"sync_type"`
	Status          JobStatus  `json:"status"`
	Priority        Priority   `json:"priority"`
	Progress        int        `json:"progress"`
	CancelRequested bool       `json:"cancel_requested"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Result          *SyncResult `json:"result,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
}

// SyncResult summarizes a finished job for the dashboard.
// Skipped lists supplier SKUs that had no active mapping and were
// left out of the push/compare step without failing the job.
type SyncResult struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Skipped   []string `json:"skipped,omitempty"`
}

// JobFilter narrows ListJobs queries. Zero values mean "any".
type JobFilter struct {
	IntegrationID string
	SyncType      SyncType
	Status        JobStatus
	Limit         int
	Offset        int
}

// QueueStats is derived from the current job records; it is never
// stored or mutated independently.
type QueueStats struct {
	TotalJobs         int     `json:"total_jobs"`
	QueuedJobs        int     `json:"queued_jobs"`
	RunningJobs       int     `json:"running_jobs"`
	CompletedJobs     int     `json:"completed_jobs"`
	FailedJobs        int     `json:"failed_jobs"`
	WorkersActive     int     `json:"workers_active"`
	AvgProcessingSecs float64 `json:"avg_processing_time"`
}
