package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryCancelFlags keeps cancel flags in process memory. Used as the
// failover fallback and when Redis is not configured.
type MemoryCancelFlags struct {
	mu    sync.RWMutex
	flags map[string]time.Time
}

func NewMemoryCancelFlags() *MemoryCancelFlags {
	return &MemoryCancelFlags{
		flags: make(map[string]time.Time),
	}
}

func (r *MemoryCancelFlags) Set(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags[jobID] = time.Now().Add(defaultFlagTTL)
	return nil
}

func (r *MemoryCancelFlags) IsSet(_ context.Context, jobID string) (bool, error) {
	r.mu.RLock()
	expiry, ok := r.flags[jobID]
	r.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		r.mu.Lock()
		delete(r.flags, jobID)
		r.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (r *MemoryCancelFlags) Clear(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flags, jobID)
	return nil
}
