package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"mlsync/internal/connector"
	"mlsync/internal/database"
	"mlsync/internal/events"
	"mlsync/internal/metrics"
	"mlsync/internal/models"
	"mlsync/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Scheduler is the admission and control surface of the job queue.
// Persistence and ordering live in the job store; the scheduler adds
// integration validation, cancellation fan-out, and worker wake-ups.
type Scheduler struct {
	db          *database.DB
	registry    *connector.Registry
	cancelFlags repository.CancelFlags
	bus         *events.EventBus
	logger      *zerolog.Logger

	wake        chan struct{}
	activeCount atomic.Int64
}

func NewScheduler(db *database.DB, registry *connector.Registry, cancelFlags repository.CancelFlags, bus *events.EventBus, logger *zerolog.Logger) *Scheduler {
	return &Scheduler{
		db:          db,
		registry:    registry,
		cancelFlags: cancelFlags,
		bus:         bus,
		logger:      logger,
		wake:        make(chan struct{}, 1),
	}
}

// EnqueueRequest is one admission request.
type EnqueueRequest struct {
	IntegrationID string
	SyncType      models.SyncType
	Priority      models.Priority
}

// Enqueue validates the request against the integration registry and
// admits a job. At most one job per (integration, sync type) pair may
// be in flight; a duplicate returns ErrConflict.
func (s *Scheduler) Enqueue(ctx context.Context, req EnqueueRequest) (*models.SyncJob, error) {
	if req.IntegrationID == "" {
		return nil, fmt.Errorf("%w: integration_id is required", models.ErrValidation)
	}

	integration, err := s.registry.Get(req.IntegrationID)
	if err != nil {
		return nil, err
	}
	if !connector.Supports(integration.Connector, req.SyncType) {
		return nil, fmt.Errorf("%w: integration %s does not support %s sync",
			models.ErrValidation, req.IntegrationID, req.SyncType)
	}

	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}

	job := &models.SyncJob{
		ID:            "job_" + uuid.NewString(),
		IntegrationID: integration.ID,
		TenantID:      integration.TenantID,
		SyncType:      req.SyncType,
		Priority:      priority,
	}

	if err := s.db.EnqueueJob(ctx, job); err != nil {
		return nil, err
	}

	metrics.IncEnqueued(string(job.SyncType), string(job.Priority))
	_ = s.bus.PublishJSON(events.EventJobQueued, events.JobEventPayload{
		JobID:         job.ID,
		IntegrationID: job.IntegrationID,
		TenantID:      job.TenantID,
		SyncType:      string(job.SyncType),
		Status:        string(job.Status),
		Priority:      string(job.Priority),
	})
	s.logger.Info().Str("job_id", job.ID).Str("integration_id", job.IntegrationID).
		Str("sync_type", string(job.SyncType)).Str("priority", string(job.Priority)).
		Msg("job enqueued")

	s.Wake()
	return job, nil
}

// Cancel cancels a job. Queued jobs flip to cancelled immediately;
// running jobs get a cancel request the worker observes at its next
// checkpoint. Terminal jobs return ErrInvalidState.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) (*models.SyncJob, error) {
	job, err := s.db.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case models.JobStatusQueued:
		if err := s.db.CancelQueuedJob(ctx, jobID); err != nil {
			return nil, err
		}
		_ = s.bus.PublishJSON(events.EventJobCancelled, events.JobEventPayload{
			JobID: jobID, IntegrationID: job.IntegrationID, TenantID: job.TenantID,
			SyncType: string(job.SyncType), Status: string(models.JobStatusCancelled),
		})
		s.logger.Info().Str("job_id", jobID).Msg("queued job cancelled")

	case models.JobStatusRunning:
		if err := s.db.RequestCancel(ctx, jobID); err != nil {
			return nil, err
		}
		if err := s.cancelFlags.Set(ctx, jobID); err != nil {
			// Workers also poll the database flag, so this is not fatal.
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to raise cancel flag")
		}
		s.logger.Info().Str("job_id", jobID).Msg("cancellation requested for running job")

	default:
		return nil, fmt.Errorf("%w: job %s is already %s", models.ErrInvalidState, jobID, job.Status)
	}

	return s.db.GetJob(ctx, jobID)
}

// Get returns one job by ID.
func (s *Scheduler) Get(ctx context.Context, jobID string) (*models.SyncJob, error) {
	return s.db.GetJob(ctx, jobID)
}

// List returns jobs matching the filter, newest first.
func (s *Scheduler) List(ctx context.Context, filter models.JobFilter) ([]models.SyncJob, error) {
	return s.db.ListJobs(ctx, filter)
}

// Stats returns queue aggregates plus the live worker count.
func (s *Scheduler) Stats(ctx context.Context) (*models.QueueStats, error) {
	stats, err := s.db.QueueStats(ctx)
	if err != nil {
		return nil, err
	}
	stats.WorkersActive = int(s.activeCount.Load())
	return &stats, nil
}

// Claim hands the next eligible job to a worker, or ErrQueueEmpty.
func (s *Scheduler) Claim(ctx context.Context) (*models.SyncJob, error) {
	job, err := s.db.ClaimNextJob(ctx)
	if err != nil {
		if errors.Is(err, database.ErrQueueEmpty) {
			return nil, err
		}
		return nil, fmt.Errorf("claim next job: %w", err)
	}

	_ = s.bus.PublishJSON(events.EventJobStarted, events.JobEventPayload{
		JobID: job.ID, IntegrationID: job.IntegrationID, TenantID: job.TenantID,
		SyncType: string(job.SyncType), Status: string(job.Status),
	})
	return job, nil
}

// Wake nudges an idle worker without waiting for the poll interval.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// WakeChan is the channel workers select on alongside their poll timer.
func (s *Scheduler) WakeChan() <-chan struct{} {
	return s.wake
}

// WorkerStarted records one worker picking up a job.
func (s *Scheduler) WorkerStarted() {
	s.activeCount.Add(1)
	metrics.WorkerStarted()
}

// WorkerStopped records one worker going idle.
func (s *Scheduler) WorkerStopped() {
	s.activeCount.Add(-1)
	metrics.WorkerStopped()
}
