package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"mlsync/internal/api"
	"mlsync/internal/config"
	"mlsync/internal/connector"
	"mlsync/internal/database"
	"mlsync/internal/events"
	"mlsync/internal/logging"
	"mlsync/internal/metrics"
	"mlsync/internal/models"
	"mlsync/internal/reconcile"
	"mlsync/internal/repository"
	"mlsync/internal/scheduler"
	"mlsync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, catalog, logger, closer, loadErr := loadConfigAndLogger()
	if loadErr != nil {
		return loadErr
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg, &logger); err != nil {
		return err
	}

	db, err := initDatabase(cfg, catalog, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, cancelFlags := initCancelFlags(ctx, cfg, &logger)
	defer func() { _ = repository.Close(redisClient) }()

	registry, err := connector.NewRegistry(cfg.Integrations, &logger)
	if err != nil {
		return err
	}

	engine := reconcile.NewEngine(db, reconcile.NewLevenshteinMatcher(), cfg.Reconciler, &logger)
	eventBus := events.NewEventBus()
	subscribeJobEvents(eventBus, &logger)

	metrics.Register()

	sched := scheduler.NewScheduler(db, registry, cancelFlags, eventBus, &logger)

	pool := worker.NewPool(sched, db, registry, engine, cancelFlags, eventBus, worker.Options{
		Workers:      cfg.Scheduler.Workers,
		PollInterval: cfg.Scheduler.PollInterval(),
		JobTimeout:   cfg.Scheduler.JobTimeout(),
		PageSize:     cfg.Scheduler.PageSize,
		Retry: worker.RetryPolicy{
			MaxRetries:    cfg.Scheduler.MaxRetries,
			InitialDelay:  cfg.Scheduler.InitialDelay(),
			MaxDelay:      cfg.Scheduler.MaxDelay(),
			BackoffFactor: cfg.Scheduler.BackoffFactor,
			Jitter:        cfg.Scheduler.RetryJitter,
		},
	}, &logger)
	pool.Start(ctx)

	cronRunner := scheduler.NewCronRunner(sched, db, registry, cfg.Scheduler, &logger)
	if err := cronRunner.Start(ctx); err != nil {
		return err
	}
	defer cronRunner.Stop()

	if cfg.API.Enabled {
		apiServer := api.NewServer(cfg.API, sched, engine, registry, &logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = apiServer.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(cfg.Monitoring.PrometheusPort, &logger)
	}

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	logger.Info().Str("environment", cfg.App.Environment).Msg("sync daemon started")

	<-ctx.Done()
	logger.Info().Msg("shutting down, waiting for workers")
	pool.Wait()
	logger.Info().Msg("shutdown complete")
	return nil
}

func loadConfigAndLogger() (*config.Config, []models.MasterSKU, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "syncd-main").Logger()

	catalog, err := loadCatalog(&logger)
	if err != nil {
		return nil, nil, zerolog.Logger{}, closer, err
	}

	return cfg, catalog, logger, closer, nil
}

// loadCatalog reads the master catalog seed file. A missing file is
// fine: catalogs can be maintained entirely through the API.
func loadCatalog(logger *zerolog.Logger) ([]models.MasterSKU, error) {
	catalogPath := os.Getenv("CATALOG_PATH")
	if catalogPath == "" {
		catalogPath = "configs/catalog.yaml"
	}

	data, err := os.ReadFile(catalogPath)
	if os.IsNotExist(err) {
		logger.Info().Str("path", catalogPath).Msg("no catalog seed file, skipping")
		return nil, nil
	}
	if err != nil {
		logger.Error().Err(err).Msgf("failed to read %s", catalogPath)
		return nil, err
	}

	var catalogConfig struct {
		Entries []struct {
			TenantID string `yaml:"tenant_id"`
			SKU      string `yaml:"sku"`
			Name     string `yaml:"name"`
		} `yaml:"entries"`
	}
	if err := yaml.Unmarshal(data, &catalogConfig); err != nil {
		logger.Error().Err(err).Msg("failed to parse catalog.yaml")
		return nil, err
	}

	entries := make([]models.MasterSKU, 0, len(catalogConfig.Entries))
	for _, e := range catalogConfig.Entries {
		entries = append(entries, models.MasterSKU{TenantID: e.TenantID, SKU: e.SKU, Name: e.Name})
	}
	return entries, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if cfg == nil {
		return os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("failed to create database directory")
		return err
	}
	if cfg.Exports.Path != "" {
		if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
			logger.Error().Err(err).Msg("failed to create exports directory")
			return err
		}
	}
	return nil
}

func initDatabase(cfg *config.Config, catalog []models.MasterSKU, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize database")
		return nil, err
	}

	if err := db.SeedCatalog(context.Background(), catalog); err != nil {
		logger.Error().Err(err).Msg("failed to seed master catalog")
	}
	return db, nil
}

func initCancelFlags(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, repository.CancelFlags) {
	fallback := repository.NewMemoryCancelFlags()
	if cfg.Redis.Address == "" {
		return nil, fallback
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if errPing := repository.Ping(ctx, redisClient); errPing != nil {
		logger.Warn().Err(errPing).Msg("Redis unavailable")
	}

	primary := repository.NewRedisCancelFlags(redisClient)
	return redisClient, repository.NewFailoverCancelFlags(primary, fallback, logger)
}

func startMetricsServer(port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

func subscribeJobEvents(bus *events.EventBus, logger *zerolog.Logger) {
	audit := logger.With().Str("component", "job-events").Logger()

	logHandler := func(ev *events.Event) error {
		audit.Info().Str("event", ev.Type).RawJSON("payload", ev.Payload).Msg("job event")
		return nil
	}

	bus.Subscribe(events.EventJobCompleted, logHandler)
	bus.Subscribe(events.EventJobFailed, logHandler)
	bus.Subscribe(events.EventJobCancelled, logHandler)
}
