package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"mlsync/internal/config"
	"mlsync/internal/connector"
	"mlsync/internal/database"
	"mlsync/internal/events"
	"mlsync/internal/models"
	"mlsync/internal/reconcile"
	"mlsync/internal/repository"
	"mlsync/internal/scheduler"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exactMatcher resolves only identical SKUs. Keeps auto-mapping
// deterministic regardless of how similar the fixture SKUs are.
type exactMatcher struct{}

func (exactMatcher) Score(supplierSKU, masterSKU string) float64 {
	if supplierSKU == masterSKU {
		return 1
	}
	return 0
}

type testStack struct {
	db        *database.DB
	registry  *connector.Registry
	engine    *reconcile.Engine
	scheduler *scheduler.Scheduler
	flags     repository.CancelFlags
	bus       *events.EventBus
	logger    zerolog.Logger
}

func setupStack(t *testing.T, conn connector.Connector) *testStack {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "worker_test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	registry, err := connector.NewRegistry(nil, &logger)
	require.NoError(t, err)
	registry.Register(&connector.Integration{
		ID:        "int-1",
		TenantID:  "ten-1",
		Connector: conn,
	})

	policy := config.ReconcilerConfig{
		AutoAcceptThreshold: 0.8,
		SuggestThreshold:    0.5,
		ConflictThreshold:   0.75,
		AmbiguityMargin:     0.05,
	}
	engine := reconcile.NewEngine(db, exactMatcher{}, policy, &logger)
	flags := repository.NewMemoryCancelFlags()
	bus := events.NewEventBus()
	sched := scheduler.NewScheduler(db, registry, flags, bus, &logger)

	return &testStack{
		db: db, registry: registry, engine: engine,
		scheduler: sched, flags: flags, bus: bus, logger: logger,
	}
}

func (s *testStack) newPool(t *testing.T, opts Options) *Pool {
	t.Helper()
	if opts.Workers == 0 {
		opts.Workers = 1
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	if opts.Retry.InitialDelay == 0 {
		opts.Retry.InitialDelay = time.Millisecond
	}
	return NewPool(s.scheduler, s.db, s.registry, s.engine, s.flags, s.bus, opts, &s.logger)
}

func (s *testStack) waitTerminal(t *testing.T, jobID string) *models.SyncJob {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("job did not reach a terminal state in time")
		case <-time.After(10 * time.Millisecond):
		}

		job, err := s.db.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		if job.Status.Terminal() {
			return job
		}
	}
}

func seedCatalogRange(t *testing.T, db *database.DB, tenantID string, n int) []connector.Item {
	t.Helper()
	items := make([]connector.Item, 0, n)
	for i := 0; i < n; i++ {
		sku := fmt.Sprintf("SKU-%03d", i)
		require.NoError(t, db.UpsertMasterSKU(context.Background(),
			models.MasterSKU{TenantID: tenantID, SKU: sku, Name: sku}))
		items = append(items, connector.Item{SKU: sku, Name: sku, Quantity: i})
	}
	return items
}

func TestPool_ProductsSyncEndToEnd(t *testing.T) {
	// 99 items resolve against the catalog; one unknown SKU is skipped.
	stack := setupStack(t, nil)
	items := seedCatalogRange(t, stack.db, "ten-1", 99)
	items = append(items, connector.Item{SKU: "ABC", Name: "unknown"})

	conn := connector.NewSandboxConnector(items)
	stack.registry.Register(&connector.Integration{ID: "int-1", TenantID: "ten-1", Connector: conn})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := stack.newPool(t, Options{PageSize: 10})
	pool.Start(ctx)
	defer pool.Wait()
	defer cancel()

	job, err := stack.scheduler.Enqueue(ctx, scheduler.EnqueueRequest{
		IntegrationID: "int-1",
		SyncType:      models.SyncTypeProducts,
	})
	require.NoError(t, err)

	done := stack.waitTerminal(t, job.ID)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	require.NotNil(t, done.Result)
	assert.Equal(t, 100, done.Result.Processed)
	assert.Equal(t, 99, done.Result.Succeeded)
	assert.Equal(t, []string{"ABC"}, done.Result.Skipped)

	// Every supplier SKU got recorded, including the skipped one.
	seen, err := stack.db.ListSupplierSKUs(context.Background(), "ten-1")
	require.NoError(t, err)
	assert.Len(t, seen, 100)

	mappings, err := stack.db.ListActiveMappings(context.Background(), "ten-1")
	require.NoError(t, err)
	assert.Len(t, mappings, 99)
}

func TestPool_InventorySyncPushesMappedQuantities(t *testing.T) {
	stack := setupStack(t, nil)
	items := seedCatalogRange(t, stack.db, "ten-1", 5)
	items = append(items, connector.Item{SKU: "UNMAPPED", Quantity: 7})

	conn := connector.NewSandboxConnector(items)
	stack.registry.Register(&connector.Integration{ID: "int-1", TenantID: "ten-1", Connector: conn})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := stack.newPool(t, Options{PageSize: 50})
	pool.Start(ctx)
	defer pool.Wait()
	defer cancel()

	job, err := stack.scheduler.Enqueue(ctx, scheduler.EnqueueRequest{
		IntegrationID: "int-1",
		SyncType:      models.SyncTypeInventory,
	})
	require.NoError(t, err)

	done := stack.waitTerminal(t, job.ID)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.Equal(t, 6, done.Result.Processed)
	assert.Equal(t, 5, done.Result.Succeeded)
	assert.Equal(t, []string{"UNMAPPED"}, done.Result.Skipped)

	qty, ok := conn.Inventory("SKU-003")
	require.True(t, ok, "mapped master SKU received a push")
	assert.Equal(t, 3, qty)

	_, ok = conn.Inventory("UNMAPPED")
	assert.False(t, ok)
}

func TestPool_OrdersSync(t *testing.T) {
	stack := setupStack(t, nil)
	seedCatalogRange(t, stack.db, "ten-1", 3)

	conn := connector.NewSandboxConnector(nil)
	conn.SetOrders([]connector.Order{
		{ExternalID: "ord-1", Items: []connector.OrderItem{{SKU: "SKU-000", Quantity: 1}}},
		{ExternalID: "ord-2", Items: []connector.OrderItem{{SKU: "MYSTERY", Quantity: 2}}},
	})
	stack.registry.Register(&connector.Integration{ID: "int-1", TenantID: "ten-1", Connector: conn})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := stack.newPool(t, Options{PageSize: 10})
	pool.Start(ctx)
	defer pool.Wait()
	defer cancel()

	job, err := stack.scheduler.Enqueue(ctx, scheduler.EnqueueRequest{
		IntegrationID: "int-1",
		SyncType:      models.SyncTypeOrders,
	})
	require.NoError(t, err)

	done := stack.waitTerminal(t, job.ID)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.Equal(t, 2, done.Result.Processed)
	assert.Equal(t, 1, done.Result.Succeeded, "order with an unresolved line does not count")
	assert.Equal(t, []string{"MYSTERY"}, done.Result.Skipped)

	// Only the fully resolved order was forwarded, with master SKUs.
	pushed := conn.PushedOrders()
	require.Len(t, pushed, 1)
	assert.Equal(t, "ord-1", pushed[0].ExternalID)
	require.Len(t, pushed[0].Items, 1)
	assert.Equal(t, "SKU-000", pushed[0].Items[0].SKU)
}

func TestPool_RetriesTransientFailures(t *testing.T) {
	stack := setupStack(t, nil)
	conn := connector.NewSandboxConnector(seedCatalogRange(t, stack.db, "ten-1", 3))
	// The first two fetches fail, the third attempt succeeds.
	conn.FailFetchTimes(2, &connector.Error{Kind: connector.KindRetryable, Op: "fetch products", Err: errors.New("503")})
	stack.registry.Register(&connector.Integration{ID: "int-1", TenantID: "ten-1", Connector: conn})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := stack.newPool(t, Options{Retry: RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, BackoffFactor: 2}})
	pool.Start(ctx)
	defer pool.Wait()
	defer cancel()

	job, err := stack.scheduler.Enqueue(ctx, scheduler.EnqueueRequest{
		IntegrationID: "int-1",
		SyncType:      models.SyncTypeProducts,
	})
	require.NoError(t, err)

	done := stack.waitTerminal(t, job.ID)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
}

func TestPool_ExhaustedRetriesFailJob(t *testing.T) {
	stack := setupStack(t, nil)
	conn := connector.NewSandboxConnector(nil)
	conn.FailFetchWith(&connector.Error{Kind: connector.KindRetryable, Op: "fetch products", Err: errors.New("503")})
	stack.registry.Register(&connector.Integration{ID: "int-1", TenantID: "ten-1", Connector: conn})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := stack.newPool(t, Options{Retry: RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, BackoffFactor: 2}})
	pool.Start(ctx)
	defer pool.Wait()
	defer cancel()

	job, err := stack.scheduler.Enqueue(ctx, scheduler.EnqueueRequest{
		IntegrationID: "int-1",
		SyncType:      models.SyncTypeProducts,
	})
	require.NoError(t, err)

	done := stack.waitTerminal(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	require.NotNil(t, done.ErrorMessage)
	assert.Contains(t, *done.ErrorMessage, "retries exhausted")
}

func TestPool_FatalErrorFailsImmediately(t *testing.T) {
	stack := setupStack(t, nil)
	conn := connector.NewSandboxConnector(nil)
	conn.FailFetchWith(&connector.Error{Kind: connector.KindFatal, Op: "fetch products", Err: errors.New("401 unauthorized")})
	stack.registry.Register(&connector.Integration{ID: "int-1", TenantID: "ten-1", Connector: conn})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := stack.newPool(t, Options{Retry: RetryPolicy{MaxRetries: 5, InitialDelay: time.Second}})
	pool.Start(ctx)
	defer pool.Wait()
	defer cancel()

	job, err := stack.scheduler.Enqueue(ctx, scheduler.EnqueueRequest{
		IntegrationID: "int-1",
		SyncType:      models.SyncTypeProducts,
	})
	require.NoError(t, err)

	// With a 1s initial delay, finishing fast proves no retry happened.
	start := time.Now()
	done := stack.waitTerminal(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	assert.Less(t, time.Since(start), time.Second)
	assert.Contains(t, *done.ErrorMessage, "401")
}

// gatedConnector releases one page per Allow call, so tests can stop a
// job mid-flight.
type gatedConnector struct {
	*connector.SandboxConnector
	gate chan struct{}
}

func (c *gatedConnector) FetchProducts(ctx context.Context, req connector.PageRequest) (*connector.Page, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.gate:
	}
	return c.SandboxConnector.FetchProducts(ctx, req)
}

func TestPool_CooperativeCancellation(t *testing.T) {
	stack := setupStack(t, nil)
	items := seedCatalogRange(t, stack.db, "ten-1", 20)

	conn := &gatedConnector{
		SandboxConnector: connector.NewSandboxConnector(items),
		gate:             make(chan struct{}, 20),
	}
	stack.registry.Register(&connector.Integration{ID: "int-1", TenantID: "ten-1", Connector: conn})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := stack.newPool(t, Options{PageSize: 5})
	pool.Start(ctx)
	defer pool.Wait()
	defer cancel()

	job, err := stack.scheduler.Enqueue(ctx, scheduler.EnqueueRequest{
		IntegrationID: "int-1",
		SyncType:      models.SyncTypeProducts,
	})
	require.NoError(t, err)

	// Let the first page through, then request cancellation.
	conn.gate <- struct{}{}
	require.Eventually(t, func() bool {
		j, err := stack.db.GetJob(context.Background(), job.ID)
		return err == nil && j.Status == models.JobStatusRunning && j.Progress > 0
	}, 2*time.Second, 5*time.Millisecond)

	_, err = stack.scheduler.Cancel(ctx, job.ID)
	require.NoError(t, err)

	// Release the next page so the worker reaches its checkpoint.
	conn.gate <- struct{}{}

	done := stack.waitTerminal(t, job.ID)
	assert.Equal(t, models.JobStatusCancelled, done.Status)
	assert.Less(t, done.Progress, 100)

	// The fast-path flag is cleared once acknowledged.
	set, err := stack.flags.IsSet(context.Background(), job.ID)
	require.NoError(t, err)
	assert.False(t, set)
}

func TestPool_JobTimeout(t *testing.T) {
	stack := setupStack(t, nil)

	conn := &gatedConnector{
		SandboxConnector: connector.NewSandboxConnector(nil),
		gate:             make(chan struct{}),
	}
	stack.registry.Register(&connector.Integration{ID: "int-1", TenantID: "ten-1", Connector: conn})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := stack.newPool(t, Options{JobTimeout: 50 * time.Millisecond})
	pool.Start(ctx)
	defer pool.Wait()
	defer cancel()

	job, err := stack.scheduler.Enqueue(ctx, scheduler.EnqueueRequest{
		IntegrationID: "int-1",
		SyncType:      models.SyncTypeProducts,
	})
	require.NoError(t, err)

	done := stack.waitTerminal(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	require.NotNil(t, done.ErrorMessage)
	assert.Contains(t, *done.ErrorMessage, "timeout")
}

func TestRetryPolicy_NextDelay(t *testing.T) {
	policy := RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  2 * time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2,
	}

	assert.Equal(t, 2*time.Second, policy.NextDelay(1))
	assert.Equal(t, 4*time.Second, policy.NextDelay(2))
	assert.Equal(t, 8*time.Second, policy.NextDelay(3))
	assert.Equal(t, 2*time.Second, policy.NextDelay(0), "attempts clamp to 1")

	capped := RetryPolicy{InitialDelay: 30 * time.Second, MaxDelay: time.Minute, BackoffFactor: 4}
	assert.Equal(t, time.Minute, capped.NextDelay(3))

	zero := RetryPolicy{}
	assert.Equal(t, time.Second, zero.NextDelay(1), "defaults kick in")
}

func TestRetryPolicy_Jitter(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, Jitter: 0.5}

	for i := 0; i < 50; i++ {
		d := policy.NextDelay(1)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}
