package database

import (
	"context"
	"fmt"
	"time"

	"mlsync/internal/models"
)

// UpsertMasterSKU adds or refreshes one canonical catalog entry.
func (db *DB) UpsertMasterSKU(ctx context.Context, entry models.MasterSKU) error {
	_, err := db.db.ExecContext(ctx,
		`INSERT INTO master_skus (tenant_id, sku, name, created_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(tenant_id, sku) DO UPDATE SET name = excluded.name`,
		entry.TenantID, entry.SKU, entry.Name, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert master sku %s/%s: %w", entry.TenantID, entry.SKU, err)
	}
	return nil
}

// SeedCatalog loads catalog entries declared in configuration. Existing
// entries are refreshed, never duplicated.
func (db *DB) SeedCatalog(ctx context.Context, entries []models.MasterSKU) error {
	for _, entry := range entries {
		if entry.SKU == "" || entry.TenantID == "" {
			continue
		}
		if err := db.UpsertMasterSKU(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// ListMasterSKUs returns a tenant's canonical catalog.
func (db *DB) ListMasterSKUs(ctx context.Context, tenantID string) ([]models.MasterSKU, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT tenant_id, sku, name, created_at FROM master_skus
         WHERE tenant_id = ? ORDER BY sku`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list master skus: %w", err)
	}
	defer rows.Close()

	var entries []models.MasterSKU
	for rows.Next() {
		var e models.MasterSKU
		if err := rows.Scan(&e.TenantID, &e.SKU, &e.Name, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan master sku: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
