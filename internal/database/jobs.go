package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"mlsync/internal/models"
)

// ErrQueueEmpty is returned by ClaimNextJob when no queued job is eligible.
var ErrQueueEmpty = errors.New("no eligible queued jobs")

const jobColumns = `id, integration_id, tenant_id, sync_type, status, priority, progress,
       cancel_requested, result, error_message, created_at, started_at, completed_at`

// EnqueueJob persists a new job in queued status. The admission check and
// the insert run in one immediate transaction so two concurrent enqueues
// for the same (integration_id, sync_type) cannot both pass.
func (db *DB) EnqueueJob(ctx context.Context, job *models.SyncJob) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enqueue tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var inFlight int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_jobs
         WHERE integration_id = ? AND sync_type = ? AND status IN ('queued', 'running')`,
		job.IntegrationID, job.SyncType,
	).Scan(&inFlight)
	if err != nil {
		return fmt.Errorf("check in-flight jobs: %w", err)
	}
	if inFlight > 0 {
		return fmt.Errorf("%w: %s/%s", models.ErrConflict, job.IntegrationID, job.SyncType)
	}

	now := time.Now().UTC()
	job.Status = models.JobStatusQueued
	job.Progress = 0
	job.CreatedAt = now

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sync_jobs (id, integration_id, tenant_id, sync_type, status, priority, priority_rank, progress, cancel_requested, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?)`,
		job.ID, job.IntegrationID, job.TenantID, job.SyncType, job.Status, job.Priority, job.Priority.Rank(), now,
	)
	if err != nil {
		return fmt.Errorf("insert sync job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enqueue tx: %w", err)
	}
	return nil
}

// GetJob returns a single job or models.ErrNotFound.
func (db *DB) GetJob(ctx context.Context, id string) (*models.SyncJob, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM sync_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: job %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns jobs matching the filter, most recent first.
func (db *DB) ListJobs(ctx context.Context, filter models.JobFilter) ([]models.SyncJob, error) {
	var conds []string
	var args []any

	if filter.IntegrationID != "" {
		conds = append(conds, "integration_id = ?")
		args = append(args, filter.IntegrationID)
	}
	if filter.SyncType != "" {
		conds = append(conds, "sync_type = ?")
		args = append(args, filter.SyncType)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + jobColumns + ` FROM sync_jobs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = models.DefaultListLimit
	}
	if limit > models.MaxListLimit {
		limit = models.MaxListLimit
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ClaimNextJob atomically selects the best eligible queued job and moves it
// to running. Eligibility re-checks the per (integration_id, sync_type)
// exclusivity at claim time: a queued job is skipped while another job for
// the same pair is running.
func (db *DB) ClaimNextJob(ctx context.Context) (*models.SyncJob, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM sync_jobs j
         WHERE j.status = 'queued'
           AND NOT EXISTS (
               SELECT 1 FROM sync_jobs r
               WHERE r.integration_id = j.integration_id
                 AND r.sync_type = j.sync_type
                 AND r.status = 'running'
           )
         ORDER BY j.priority_rank DESC, j.created_at ASC
         LIMIT 1`)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("select claimable job: %w", err)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE sync_jobs SET status = 'running', started_at = ? WHERE id = ? AND status = 'queued'`,
		now, job.ID)
	if err != nil {
		return nil, fmt.Errorf("mark job running: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrQueueEmpty
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}

	job.Status = models.JobStatusRunning
	job.StartedAt = &now
	return job, nil
}

// UpdateJobProgress raises a running job's progress. Lower values are
// ignored so observers always see a non-decreasing sequence.
func (db *DB) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	_, err := db.db.ExecContext(ctx,
		`UPDATE sync_jobs SET progress = ?
         WHERE id = ? AND status = 'running' AND progress < ?`,
		progress, id, progress)
	if err != nil {
		return fmt.Errorf("update progress for %s: %w", id, err)
	}
	return nil
}

// CompleteJob moves a running job to completed with its result summary.
func (db *DB) CompleteJob(ctx context.Context, id string, result *models.SyncResult) error {
	var resultJSON any
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		resultJSON = string(data)
	}

	res, err := db.db.ExecContext(ctx,
		`UPDATE sync_jobs SET status = 'completed', progress = 100, completed_at = ?, result = ?
         WHERE id = ? AND status = 'running'`,
		time.Now().UTC(), resultJSON, id)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: job %s is not running", models.ErrInvalidState, id)
	}
	return nil
}

// FailJob moves a running job to failed, retaining the last error message.
// Progress is frozen at its last reported value.
func (db *DB) FailJob(ctx context.Context, id string, errMsg string) error {
	res, err := db.db.ExecContext(ctx,
		`UPDATE sync_jobs SET status = 'failed', completed_at = ?, error_message = ?
         WHERE id = ? AND status = 'running'`,
		time.Now().UTC(), errMsg, id)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: job %s is not running", models.ErrInvalidState, id)
	}
	return nil
}

// CancelQueuedJob cancels a job that has not been claimed yet.
func (db *DB) CancelQueuedJob(ctx context.Context, id string) error {
	res, err := db.db.ExecContext(ctx,
		`UPDATE sync_jobs SET status = 'cancelled', completed_at = ?
         WHERE id = ? AND status = 'queued'`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("cancel queued job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: job %s is not queued", models.ErrInvalidState, id)
	}
	return nil
}

// RequestCancel sets the cooperative cancellation flag on a running job.
// The job only reaches cancelled once the owning worker acknowledges.
func (db *DB) RequestCancel(ctx context.Context, id string) error {
	res, err := db.db.ExecContext(ctx,
		`UPDATE sync_jobs SET cancel_requested = 1 WHERE id = ? AND status = 'running'`, id)
	if err != nil {
		return fmt.Errorf("request cancel for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: job %s is not running", models.ErrInvalidState, id)
	}
	return nil
}

// IsCancelRequested reports the durable cancellation flag.
func (db *DB) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	var flag int
	err := db.db.QueryRowContext(ctx,
		`SELECT cancel_requested FROM sync_jobs WHERE id = ?`, id).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: job %s", models.ErrNotFound, id)
	}
	if err != nil {
		return false, fmt.Errorf("read cancel flag for %s: %w", id, err)
	}
	return flag == 1, nil
}

// AcknowledgeCancel is called by the owning worker when it observes the
// cancellation flag at a checkpoint.
func (db *DB) AcknowledgeCancel(ctx context.Context, id string) error {
	res, err := db.db.ExecContext(ctx,
		`UPDATE sync_jobs SET status = 'cancelled', completed_at = ?
         WHERE id = ? AND status = 'running'`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("acknowledge cancel for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: job %s is not running", models.ErrInvalidState, id)
	}
	return nil
}

// QueueStats aggregates the current job records. WorkersActive is filled
// in by the scheduler, not the store.
func (db *DB) QueueStats(ctx context.Context) (models.QueueStats, error) {
	var stats models.QueueStats

	err := db.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
                COALESCE(SUM(status = 'queued'), 0),
                COALESCE(SUM(status = 'running'), 0),
                COALESCE(SUM(status = 'completed'), 0),
                COALESCE(SUM(status = 'failed'), 0)
         FROM sync_jobs`,
	).Scan(&stats.TotalJobs, &stats.QueuedJobs, &stats.RunningJobs, &stats.CompletedJobs, &stats.FailedJobs)
	if err != nil {
		return stats, fmt.Errorf("aggregate job counts: %w", err)
	}

	var avg sql.NullFloat64
	err = db.db.QueryRowContext(ctx,
		`SELECT AVG((julianday(completed_at) - julianday(started_at)) * 86400.0)
         FROM sync_jobs
         WHERE status = 'completed' AND started_at IS NOT NULL AND completed_at IS NOT NULL`,
	).Scan(&avg)
	if err != nil {
		return stats, fmt.Errorf("aggregate processing time: %w", err)
	}
	if avg.Valid {
		stats.AvgProcessingSecs = avg.Float64
	}

	return stats, nil
}

// DeleteJobsBefore removes terminal jobs created before the cutoff.
// Queued and running jobs are never touched.
func (db *DB) DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.db.ExecContext(ctx,
		`DELETE FROM sync_jobs
         WHERE status IN ('completed', 'failed', 'cancelled') AND created_at < ?`,
		cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old jobs: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.SyncJob, error) {
	var job models.SyncJob
	var cancelRequested int
	var result sql.NullString
	var errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&job.ID, &job.IntegrationID, &job.TenantID, &job.SyncType, &job.Status,
		&job.Priority, &job.Progress, &cancelRequested, &result, &errMsg,
		&job.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.CancelRequested = cancelRequested == 1
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if errMsg.Valid {
		s := errMsg.String
		job.ErrorMessage = &s
	}
	if result.Valid && result.String != "" {
		var r models.SyncResult
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return nil, fmt.Errorf("decode result for %s: %w", job.ID, err)
		}
		job.Result = &r
	}
	return &job, nil
}
