package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"mlsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig           `yaml:"app"`
	Database     DatabaseConfig      `yaml:"database"`
	Redis        RedisConfig         `yaml:"redis"`
	API          APIConfig           `yaml:"api"`
	Logging      LoggingConfig       `yaml:"logging"`
	Monitoring   MonitoringConfig    `yaml:"monitoring"`
	Backup       BackupConfig        `yaml:"backup"`
	Scheduler    SchedulerConfig     `yaml:"scheduler"`
	Reconciler   ReconcilerConfig    `yaml:"reconciler"`
	Integrations []IntegrationConfig `yaml:"integrations"`
	Exports      ExportConfig        `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig tunes the queue, the worker pool and the periodic
// orchestration jobs.
type SchedulerConfig struct {
	Workers             int     `yaml:"workers"`
	PollIntervalSeconds int     `yaml:"poll_interval_seconds"`
	JobTimeoutMinutes   int     `yaml:"job_timeout_minutes"`
	PageSize            int     `yaml:"page_size"`
	MaxRetries          int     `yaml:"max_retries"`
	InitialDelaySeconds int     `yaml:"initial_delay_seconds"`
	MaxDelaySeconds     int     `yaml:"max_delay_seconds"`
	BackoffFactor       float64 `yaml:"backoff_factor"`
	RetryJitter         float64 `yaml:"retry_jitter"`
	AutoSyncCron        string  `yaml:"auto_sync_cron"`
	CleanupCron         string  `yaml:"cleanup_cron"`
	RetentionDays       int     `yaml:"retention_days"`
}

func (c SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c SchedulerConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutMinutes) * time.Minute
}

func (c SchedulerConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelaySeconds) * time.Second
}

func (c SchedulerConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelaySeconds) * time.Second
}

// ReconcilerConfig holds the confidence score policy bands.
type ReconcilerConfig struct {
	AutoAcceptThreshold float64 `yaml:"auto_accept_threshold"`
	SuggestThreshold    float64 `yaml:"suggest_threshold"`
	ConflictThreshold   float64 `yaml:"conflict_threshold"`
	AmbiguityMargin     float64 `yaml:"ambiguity_margin"`
}

// IntegrationConfig declares one tenant's connection to a marketplace or ERP.
type IntegrationConfig struct {
	ID       string `yaml:"id"`
	TenantID string `yaml:"tenant_id"`
	Provider string `yaml:"provider"`
	Enabled  bool   `yaml:"enabled"`
	Name     string `yaml:"name"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; env vars may come from the environment directly.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Expand ${VAR} references before parsing so secrets stay out of YAML.
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if err := ValidateIntegrations(c.Integrations); err != nil {
		return err
	}

	r := c.Reconciler
	for name, v := range map[string]float64{
		"auto_accept_threshold": r.AutoAcceptThreshold,
		"suggest_threshold":     r.SuggestThreshold,
		"conflict_threshold":    r.ConflictThreshold,
		"ambiguity_margin":      r.AmbiguityMargin,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("reconciler.%s must be within [0, 1], got %v", name, v)
		}
	}
	if r.SuggestThreshold > r.AutoAcceptThreshold {
		return errors.New("reconciler.suggest_threshold must not exceed auto_accept_threshold")
	}

	return nil
}

func ValidateIntegrations(integrations []IntegrationConfig) error {
	seen := make(map[string]bool, len(integrations))
	for _, integ := range integrations {
		if integ.ID == "" {
			return fmt.Errorf("integration %q has empty id", integ.Name)
		}
		if seen[integ.ID] {
			return fmt.Errorf("duplicate integration id: %s", integ.ID)
		}
		seen[integ.ID] = true
		if integ.TenantID == "" {
			return fmt.Errorf("integration %s has empty tenant_id", integ.ID)
		}
		if integ.Provider == "" {
			return fmt.Errorf("integration %s has empty provider", integ.ID)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	s := &c.Scheduler
	if s.Workers == 0 {
		s.Workers = models.DefaultWorkerCount
	}
	if s.PollIntervalSeconds == 0 {
		s.PollIntervalSeconds = int(models.DefaultPollInterval / time.Second)
	}
	if s.JobTimeoutMinutes == 0 {
		s.JobTimeoutMinutes = int(models.DefaultJobTimeout / time.Minute)
	}
	if s.PageSize == 0 {
		s.PageSize = models.DefaultPageSize
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = models.DefaultMaxRetries
	}
	if s.InitialDelaySeconds == 0 {
		s.InitialDelaySeconds = int(models.DefaultInitialDelay / time.Second)
	}
	if s.MaxDelaySeconds == 0 {
		s.MaxDelaySeconds = int(models.DefaultMaxDelay / time.Second)
	}
	if s.BackoffFactor == 0 {
		s.BackoffFactor = models.DefaultBackoffFactor
	}
	if s.RetryJitter == 0 {
		s.RetryJitter = models.DefaultRetryJitter
	}
	if s.RetentionDays == 0 {
		s.RetentionDays = models.DefaultJobRetentionDays
	}

	r := &c.Reconciler
	if r.AutoAcceptThreshold == 0 {
		r.AutoAcceptThreshold = models.DefaultAutoAcceptThreshold
	}
	if r.SuggestThreshold == 0 {
		r.SuggestThreshold = models.DefaultSuggestThreshold
	}
	if r.ConflictThreshold == 0 {
		r.ConflictThreshold = models.DefaultConflictThreshold
	}
	if r.AmbiguityMargin == 0 {
		r.AmbiguityMargin = models.DefaultAmbiguityMargin
	}
}
