package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mlsync/internal/connector"
	"mlsync/internal/database"
	"mlsync/internal/events"
	"mlsync/internal/metrics"
	"mlsync/internal/models"
	"mlsync/internal/reconcile"
	"mlsync/internal/repository"
	"mlsync/internal/scheduler"

	"github.com/rs/zerolog"
)

// errCancelled aborts a running job from inside the page loop.
var errCancelled = errors.New("job cancelled")

// Pool runs N workers that claim jobs from the scheduler and execute
// them against the integration's connector. Workers observe cancel
// requests between pages and honor the per-job timeout.
type Pool struct {
	scheduler   *scheduler.Scheduler
	db          *database.DB
	registry    *connector.Registry
	engine      *reconcile.Engine
	cancelFlags repository.CancelFlags
	bus         *events.EventBus
	logger      *zerolog.Logger

	workers      int
	pollInterval time.Duration
	jobTimeout   time.Duration
	pageSize     int
	retry        RetryPolicy

	wg sync.WaitGroup
}

type Options struct {
	Workers      int
	PollInterval time.Duration
	JobTimeout   time.Duration
	PageSize     int
	Retry        RetryPolicy
}

func NewPool(sched *scheduler.Scheduler, db *database.DB, registry *connector.Registry, engine *reconcile.Engine, cancelFlags repository.CancelFlags, bus *events.EventBus, opts Options, logger *zerolog.Logger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = models.DefaultWorkerCount
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = models.DefaultPollInterval
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = models.DefaultJobTimeout
	}
	if opts.PageSize <= 0 {
		opts.PageSize = models.DefaultPageSize
	}
	if opts.Retry.MaxRetries == 0 {
		opts.Retry.MaxRetries = models.DefaultMaxRetries
	}
	if opts.Retry.InitialDelay == 0 {
		opts.Retry.InitialDelay = models.DefaultInitialDelay
	}
	if opts.Retry.MaxDelay == 0 {
		opts.Retry.MaxDelay = models.DefaultMaxDelay
	}
	if opts.Retry.BackoffFactor == 0 {
		opts.Retry.BackoffFactor = models.DefaultBackoffFactor
	}

	return &Pool{
		scheduler:    sched,
		db:           db,
		registry:     registry,
		engine:       engine,
		cancelFlags:  cancelFlags,
		bus:          bus,
		logger:       logger,
		workers:      opts.Workers,
		pollInterval: opts.PollInterval,
		jobTimeout:   opts.JobTimeout,
		pageSize:     opts.PageSize,
		retry:        opts.Retry,
	}
}

// Start launches the workers; they stop when ctx is done.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info().Int("workers", p.workers).Msg("worker pool started")
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
	p.logger.Info().Msg("worker pool stopped")
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With().Int("worker_id", id).Logger()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.scheduler.Claim(ctx)
		if err != nil {
			if !errors.Is(err, database.ErrQueueEmpty) {
				logger.Error().Err(err).Msg("claim failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-p.scheduler.WakeChan():
			}
			continue
		}

		p.execute(ctx, &logger, job)
	}
}

// execute runs one claimed job to a terminal state.
func (p *Pool) execute(ctx context.Context, logger *zerolog.Logger, job *models.SyncJob) {
	p.scheduler.WorkerStarted()
	defer p.scheduler.WorkerStopped()

	started := time.Now()
	logger.Info().Str("job_id", job.ID).Str("integration_id", job.IntegrationID).
		Str("sync_type", string(job.SyncType)).Msg("job started")

	jobCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	result, err := p.runSync(jobCtx, job)
	duration := time.Since(started)

	switch {
	case err == nil:
		if cerr := p.db.CompleteJob(ctx, job.ID, result); cerr != nil {
			logger.Error().Err(cerr).Str("job_id", job.ID).Msg("failed to mark job completed")
			return
		}
		p.finish(job, string(models.JobStatusCompleted), duration, "")
		logger.Info().Str("job_id", job.ID).Int("processed", result.Processed).
			Int("succeeded", result.Succeeded).Int("skipped", len(result.Skipped)).
			Dur("duration", duration).Msg("job completed")

	case errors.Is(err, errCancelled):
		if aerr := p.db.AcknowledgeCancel(ctx, job.ID); aerr != nil {
			logger.Error().Err(aerr).Str("job_id", job.ID).Msg("failed to acknowledge cancel")
			return
		}
		_ = p.cancelFlags.Clear(ctx, job.ID)
		p.finish(job, string(models.JobStatusCancelled), duration, "")
		logger.Info().Str("job_id", job.ID).Msg("job cancelled")

	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		msg := fmt.Sprintf("job exceeded timeout of %s", p.jobTimeout)
		if ferr := p.db.FailJob(ctx, job.ID, msg); ferr != nil {
			logger.Error().Err(ferr).Str("job_id", job.ID).Msg("failed to mark job failed")
			return
		}
		p.finish(job, string(models.JobStatusFailed), duration, msg)
		logger.Warn().Str("job_id", job.ID).Dur("timeout", p.jobTimeout).Msg("job timed out")

	case ctx.Err() != nil:
		// Shutdown mid-job: leave the job running, a restart resumes it
		// via a fresh sync. Operators can cancel it explicitly.
		logger.Warn().Str("job_id", job.ID).Msg("shutdown interrupted job")

	default:
		if ferr := p.db.FailJob(ctx, job.ID, err.Error()); ferr != nil {
			logger.Error().Err(ferr).Str("job_id", job.ID).Msg("failed to mark job failed")
			return
		}
		p.finish(job, string(models.JobStatusFailed), duration, err.Error())
		logger.Error().Err(err).Str("job_id", job.ID).Msg("job failed")
	}
}

func (p *Pool) finish(job *models.SyncJob, status string, duration time.Duration, errMsg string) {
	metrics.IncFinished(string(job.SyncType), status)
	metrics.ObserveJobDuration(string(job.SyncType), duration)

	eventType := events.EventJobCompleted
	switch status {
	case string(models.JobStatusFailed):
		eventType = events.EventJobFailed
	case string(models.JobStatusCancelled):
		eventType = events.EventJobCancelled
	}
	_ = p.bus.PublishJSON(eventType, events.JobEventPayload{
		JobID:         job.ID,
		IntegrationID: job.IntegrationID,
		TenantID:      job.TenantID,
		SyncType:      string(job.SyncType),
		Status:        status,
		ErrorMessage:  errMsg,
	})
}

// runSync dispatches on sync type and drives the page loop.
func (p *Pool) runSync(ctx context.Context, job *models.SyncJob) (*models.SyncResult, error) {
	integration, err := p.registry.Get(job.IntegrationID)
	if err != nil {
		return nil, err
	}

	switch job.SyncType {
	case models.SyncTypeOrders:
		return p.syncOrders(ctx, job, integration)
	case models.SyncTypeInventory:
		return p.syncInventory(ctx, job, integration)
	default:
		return p.syncProducts(ctx, job, integration)
	}
}

// syncProducts ingests the supplier product list, resolving every SKU
// against the master catalog. Unresolvable SKUs are skipped, never
// fatal.
func (p *Pool) syncProducts(ctx context.Context, job *models.SyncJob, integration *connector.Integration) (*models.SyncResult, error) {
	result := &models.SyncResult{}
	offset := 0

	for {
		page, err := p.fetchPageWithRetry(ctx, job, func(ctx context.Context) (*connector.Page, error) {
			return integration.Connector.FetchProducts(ctx, connector.PageRequest{Offset: offset, Limit: p.pageSize})
		})
		if err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			result.Processed++
			res, err := p.engine.ResolveSKU(ctx, job.TenantID, item.SKU)
			if err != nil {
				return nil, err
			}
			if res.Resolved() {
				result.Succeeded++
			} else {
				result.Skipped = append(result.Skipped, item.SKU)
			}
		}

		offset += len(page.Items)
		p.reportProgress(ctx, job.ID, offset, page.Total)

		if cancelled, err := p.checkCancel(ctx, job.ID); err != nil {
			return nil, err
		} else if cancelled {
			return nil, errCancelled
		}

		if len(page.Items) < p.pageSize || (page.Total > 0 && offset >= page.Total) {
			break
		}
	}

	result.Failed = 0
	return result, nil
}

// syncInventory mirrors supplier stock levels onto mapped master SKUs
// and pushes them back through the connector page by page.
func (p *Pool) syncInventory(ctx context.Context, job *models.SyncJob, integration *connector.Integration) (*models.SyncResult, error) {
	result := &models.SyncResult{}
	offset := 0

	for {
		page, err := p.fetchPageWithRetry(ctx, job, func(ctx context.Context) (*connector.Page, error) {
			return integration.Connector.FetchInventory(ctx, connector.PageRequest{Offset: offset, Limit: p.pageSize})
		})
		if err != nil {
			return nil, err
		}

		var updates []connector.InventoryUpdate
		for _, item := range page.Items {
			result.Processed++
			res, err := p.engine.ResolveSKU(ctx, job.TenantID, item.SKU)
			if err != nil {
				return nil, err
			}
			if !res.Resolved() {
				result.Skipped = append(result.Skipped, item.SKU)
				continue
			}
			updates = append(updates, connector.InventoryUpdate{
				SKU:      res.Mapping.MasterSKU,
				Quantity: item.Quantity,
			})
		}

		if len(updates) > 0 {
			if err := p.pushWithRetry(ctx, job, integration, updates); err != nil {
				return nil, err
			}
			result.Succeeded += len(updates)
		}

		offset += len(page.Items)
		p.reportProgress(ctx, job.ID, offset, page.Total)

		if cancelled, err := p.checkCancel(ctx, job.ID); err != nil {
			return nil, err
		} else if cancelled {
			return nil, errCancelled
		}

		if len(page.Items) < p.pageSize || (page.Total > 0 && offset >= page.Total) {
			break
		}
	}

	return result, nil
}

// syncOrders ingests recent orders, resolving each line's supplier SKU.
// Orders whose every line resolved are rewritten to master SKUs and
// forwarded to the remote side; a partially resolved order is held back.
func (p *Pool) syncOrders(ctx context.Context, job *models.SyncJob, integration *connector.Integration) (*models.SyncResult, error) {
	result := &models.SyncResult{}
	offset := 0

	for {
		var orders []connector.Order
		var total int
		err := p.withRetry(ctx, job, func(ctx context.Context) error {
			var ferr error
			orders, total, ferr = integration.Connector.FetchOrders(ctx, connector.PageRequest{Offset: offset, Limit: p.pageSize})
			return ferr
		})
		if err != nil {
			return nil, err
		}

		var resolved []connector.Order
		for _, order := range orders {
			result.Processed++
			out := connector.Order{ExternalID: order.ExternalID, Status: order.Status, Total: order.Total}
			complete := true
			for _, line := range order.Items {
				res, err := p.engine.ResolveSKU(ctx, job.TenantID, line.SKU)
				if err != nil {
					return nil, err
				}
				if !res.Resolved() {
					result.Skipped = append(result.Skipped, line.SKU)
					complete = false
					continue
				}
				out.Items = append(out.Items, connector.OrderItem{
					SKU:      res.Mapping.MasterSKU,
					Quantity: line.Quantity,
					Price:    line.Price,
				})
			}
			if complete {
				resolved = append(resolved, out)
			}
		}

		if len(resolved) > 0 {
			err := p.withRetry(ctx, job, func(ctx context.Context) error {
				return integration.Connector.PushOrders(ctx, resolved)
			})
			if err != nil {
				return nil, err
			}
			result.Succeeded += len(resolved)
		}

		offset += len(orders)
		p.reportProgress(ctx, job.ID, offset, total)

		if cancelled, err := p.checkCancel(ctx, job.ID); err != nil {
			return nil, err
		} else if cancelled {
			return nil, errCancelled
		}

		if len(orders) < p.pageSize || (total > 0 && offset >= total) {
			break
		}
	}

	return result, nil
}

func (p *Pool) fetchPageWithRetry(ctx context.Context, job *models.SyncJob, fetch func(context.Context) (*connector.Page, error)) (*connector.Page, error) {
	var page *connector.Page
	err := p.withRetry(ctx, job, func(ctx context.Context) error {
		var ferr error
		page, ferr = fetch(ctx)
		return ferr
	})
	return page, err
}

func (p *Pool) pushWithRetry(ctx context.Context, job *models.SyncJob, integration *connector.Integration, updates []connector.InventoryUpdate) error {
	return p.withRetry(ctx, job, func(ctx context.Context) error {
		return integration.Connector.PushInventory(ctx, updates)
	})
}

// withRetry runs op, retrying transient connector failures with
// exponential backoff. Fatal failures and exhausted retries propagate.
// Cancellation is re-checked before every retry sleep.
func (p *Pool) withRetry(ctx context.Context, job *models.SyncJob, op func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.retry.MaxRetries; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !connector.Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.retry.MaxRetries {
			break
		}

		if cancelled, err := p.checkCancel(ctx, job.ID); err != nil {
			return err
		} else if cancelled {
			return errCancelled
		}

		delay := p.retry.NextDelay(attempt)
		p.logger.Warn().Err(lastErr).Str("job_id", job.ID).Int("attempt", attempt).
			Dur("retry_in", delay).Msg("transient sync failure, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", p.retry.MaxRetries, lastErr)
}

// checkCancel consults the fast-path flag first, then the job store.
func (p *Pool) checkCancel(ctx context.Context, jobID string) (bool, error) {
	if set, err := p.cancelFlags.IsSet(ctx, jobID); err == nil && set {
		return true, nil
	}
	cancelled, err := p.db.IsCancelRequested(ctx, jobID)
	if err != nil {
		return false, err
	}
	return cancelled, nil
}

// reportProgress writes the floor percentage; the store ignores
// regressions so late writers cannot move progress backwards.
func (p *Pool) reportProgress(ctx context.Context, jobID string, processed, total int) {
	if total <= 0 {
		return
	}
	pct := processed * 100 / total
	if pct > 99 {
		// 100 is reserved for completion.
		pct = 99
	}
	if err := p.db.UpdateJobProgress(ctx, jobID, pct); err != nil {
		p.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to update progress")
	}
}
