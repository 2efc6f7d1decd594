package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB wraps the SQLite connection backing the job store, the SKU mapping
// store and the master catalog.
type DB struct {
	db     *sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// _txlock=immediate makes write transactions take the write lock at
	// BEGIN, so concurrent claim transactions queue on busy_timeout
	// instead of failing with SQLITE_BUSY_SNAPSHOT under WAL.
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{db: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sync_jobs (
            id TEXT PRIMARY KEY,
            integration_id TEXT NOT NULL,
            tenant_id TEXT NOT NULL,
            sync_type TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'queued'
                CHECK(status IN ('queued','running','completed','failed','cancelled')),
            priority TEXT NOT NULL DEFAULT 'normal',
            priority_rank INTEGER NOT NULL DEFAULT 5,
            progress INTEGER NOT NULL DEFAULT 0,
            cancel_requested INTEGER NOT NULL DEFAULT 0,
            result TEXT,
            error_message TEXT,
            created_at DATETIME NOT NULL,
            started_at DATETIME,
            completed_at DATETIME
        )`,
		`CREATE TABLE IF NOT EXISTS sku_mappings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            tenant_id TEXT NOT NULL,
            supplier_sku TEXT NOT NULL,
            master_sku TEXT NOT NULL,
            mapping_type TEXT NOT NULL CHECK(mapping_type IN ('manual','automatic')),
            confidence_score REAL NOT NULL DEFAULT 0,
            active INTEGER NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS supplier_skus (
            tenant_id TEXT NOT NULL,
            supplier_sku TEXT NOT NULL,
            first_seen_at DATETIME NOT NULL,
            last_seen_at DATETIME NOT NULL,
            PRIMARY KEY (tenant_id, supplier_sku)
        )`,
		`CREATE TABLE IF NOT EXISTS master_skus (
            tenant_id TEXT NOT NULL,
            sku TEXT NOT NULL,
            name TEXT,
            created_at DATETIME NOT NULL,
            PRIMARY KEY (tenant_id, sku)
        )`,

		`CREATE INDEX IF NOT EXISTS idx_sync_jobs_status ON sync_jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_jobs_claim ON sync_jobs(status, priority_rank DESC, created_at ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_jobs_integration ON sync_jobs(integration_id, sync_type, status)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_jobs_created ON sync_jobs(created_at DESC)`,

		// One active mapping per (tenant, supplier SKU); superseded rows stay inactive.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sku_mappings_active
            ON sku_mappings(tenant_id, supplier_sku) WHERE active = 1`,
		`CREATE INDEX IF NOT EXISTS idx_sku_mappings_tenant ON sku_mappings(tenant_id, active)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func (db *DB) PingContext(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.db.Close()
}
