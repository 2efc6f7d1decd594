package scheduler

import (
	"context"
	"errors"
	"time"

	"mlsync/internal/config"
	"mlsync/internal/connector"
	"mlsync/internal/database"
	"mlsync/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// CronRunner drives the periodic work: scheduled low-priority syncs for
// every registered integration and the daily job retention cleanup.
type CronRunner struct {
	scheduler *Scheduler
	db        *database.DB
	registry  *connector.Registry
	cfg       config.SchedulerConfig
	logger    *zerolog.Logger
	cron      *cron.Cron
}

func NewCronRunner(scheduler *Scheduler, db *database.DB, registry *connector.Registry, cfg config.SchedulerConfig, logger *zerolog.Logger) *CronRunner {
	return &CronRunner{
		scheduler: scheduler,
		db:        db,
		registry:  registry,
		cfg:       cfg,
		logger:    logger,
		cron:      cron.New(),
	}
}

// Start registers the cron entries and begins running them. Call Stop
// on shutdown.
func (r *CronRunner) Start(ctx context.Context) error {
	if r.cfg.AutoSyncCron != "" {
		if _, err := r.cron.AddFunc(r.cfg.AutoSyncCron, func() { r.autoSync(ctx) }); err != nil {
			return err
		}
	}
	if r.cfg.CleanupCron != "" {
		if _, err := r.cron.AddFunc(r.cfg.CleanupCron, func() { r.cleanup(ctx) }); err != nil {
			return err
		}
	}

	r.cron.Start()
	r.logger.Info().Str("auto_sync", r.cfg.AutoSyncCron).Str("cleanup", r.cfg.CleanupCron).
		Msg("cron runner started")
	return nil
}

// Stop halts the cron scheduler and waits for running entries.
func (r *CronRunner) Stop() {
	<-r.cron.Stop().Done()
}

// autoSync enqueues a low-priority sync of every supported type for
// every registered integration. Pairs that already have a job in
// flight are skipped quietly.
func (r *CronRunner) autoSync(ctx context.Context) {
	for _, integration := range r.registry.List() {
		for _, syncType := range []models.SyncType{models.SyncTypeProducts, models.SyncTypeInventory, models.SyncTypeOrders} {
			if !connector.Supports(integration.Connector, syncType) {
				continue
			}

			_, err := r.scheduler.Enqueue(ctx, EnqueueRequest{
				IntegrationID: integration.ID,
				SyncType:      syncType,
				Priority:      models.PriorityLow,
			})
			if errors.Is(err, models.ErrConflict) {
				continue
			}
			if err != nil {
				r.logger.Error().Err(err).Str("integration_id", integration.ID).
					Str("sync_type", string(syncType)).Msg("auto-sync enqueue failed")
			}
		}
	}
}

// cleanup deletes terminal jobs older than the retention window.
func (r *CronRunner) cleanup(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -r.cfg.RetentionDays)

	deleted, err := r.db.DeleteJobsBefore(ctx, cutoff)
	if err != nil {
		r.logger.Error().Err(err).Msg("job retention cleanup failed")
		return
	}
	if deleted > 0 {
		r.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("old jobs cleaned up")
	}
}
