package repository

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// FailoverCancelFlags serves from the primary (Redis) until it fails,
// then falls back to the in-memory store and probes the primary again
// after a minute.
type FailoverCancelFlags struct {
	primary   CancelFlags
	fallback  CancelFlags
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck time.Time
}

func NewFailoverCancelFlags(primary, fallback CancelFlags, logger *zerolog.Logger) *FailoverCancelFlags {
	return &FailoverCancelFlags{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverCancelFlags) Set(ctx context.Context, jobID string) error {
	if !r.isDown.Load() {
		err := r.primary.Set(ctx, jobID)
		if err == nil {
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary cancel flag store failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	return r.fallback.Set(ctx, jobID)
}

func (r *FailoverCancelFlags) IsSet(ctx context.Context, jobID string) (bool, error) {
	if !r.isDown.Load() {
		set, err := r.primary.IsSet(ctx, jobID)
		if err == nil {
			return set, nil
		}
		r.logger.Error().Err(err).Msg("Primary cancel flag store failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	// Try to recover after 1 minute
	if r.isDown.Load() && time.Since(r.lastCheck) > time.Minute {
		set, err := r.primary.IsSet(ctx, jobID)
		if err == nil {
			r.isDown.Store(false)
			return set, nil
		}
		r.lastCheck = time.Now()
	}

	return r.fallback.IsSet(ctx, jobID)
}

func (r *FailoverCancelFlags) Clear(ctx context.Context, jobID string) error {
	if !r.isDown.Load() {
		err := r.primary.Clear(ctx, jobID)
		if err == nil {
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary cancel flag store failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	return r.fallback.Clear(ctx, jobID)
}
