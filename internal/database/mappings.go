package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mlsync/internal/models"
)

// GetActiveMapping returns the active mapping for a tenant's supplier SKU,
// or nil when none exists.
func (db *DB) GetActiveMapping(ctx context.Context, tenantID, supplierSKU string) (*models.SKUMapping, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, supplier_sku, master_sku, mapping_type, confidence_score, active, created_at
         FROM sku_mappings
         WHERE tenant_id = ? AND supplier_sku = ? AND active = 1`,
		tenantID, supplierSKU)

	mapping, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active mapping for %s/%s: %w", tenantID, supplierSKU, err)
	}
	return mapping, nil
}

// UpsertMapping creates or supersedes the active mapping for the pair.
// Calling again with an identical active mapping is a no-op; a different
// master SKU deactivates the prior row and inserts a new active one.
// Writes for the same supplier SKU serialize on the transaction; unrelated
// SKUs do not contend beyond SQLite's writer lock.
func (db *DB) UpsertMapping(ctx context.Context, mapping *models.SKUMapping) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mapping tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT id, tenant_id, supplier_sku, master_sku, mapping_type, confidence_score, active, created_at
         FROM sku_mappings
         WHERE tenant_id = ? AND supplier_sku = ? AND active = 1`,
		mapping.TenantID, mapping.SupplierSKU)
	existing, err := scanMapping(row)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check existing mapping: %w", err)
	}

	if existing != nil {
		if existing.MasterSKU == mapping.MasterSKU && existing.MappingType == mapping.MappingType {
			// Idempotent repeat; keep the original row.
			*mapping = *existing
			return tx.Commit()
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE sku_mappings SET active = 0 WHERE id = ?`, existing.ID)
		if err != nil {
			return fmt.Errorf("deactivate superseded mapping: %w", err)
		}
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO sku_mappings (tenant_id, supplier_sku, master_sku, mapping_type, confidence_score, active, created_at)
         VALUES (?, ?, ?, ?, ?, 1, ?)`,
		mapping.TenantID, mapping.SupplierSKU, mapping.MasterSKU, mapping.MappingType, mapping.ConfidenceScore, now)
	if err != nil {
		return fmt.Errorf("insert mapping: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read mapping id: %w", err)
	}
	mapping.ID = id
	mapping.Active = true
	mapping.CreatedAt = now

	return tx.Commit()
}

// ListActiveMappings returns every active mapping for a tenant.
func (db *DB) ListActiveMappings(ctx context.Context, tenantID string) ([]models.SKUMapping, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT id, tenant_id, supplier_sku, master_sku, mapping_type, confidence_score, active, created_at
         FROM sku_mappings
         WHERE tenant_id = ? AND active = 1
         ORDER BY supplier_sku`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list active mappings: %w", err)
	}
	defer rows.Close()

	var mappings []models.SKUMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		mappings = append(mappings, *m)
	}
	return mappings, rows.Err()
}

// RecordSupplierSKU remembers that a supplier SKU was seen in ingested
// data for a tenant. Re-recording only bumps last_seen_at.
func (db *DB) RecordSupplierSKU(ctx context.Context, tenantID, supplierSKU string) error {
	now := time.Now().UTC()
	_, err := db.db.ExecContext(ctx,
		`INSERT INTO supplier_skus (tenant_id, supplier_sku, first_seen_at, last_seen_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(tenant_id, supplier_sku) DO UPDATE SET last_seen_at = excluded.last_seen_at`,
		tenantID, supplierSKU, now, now)
	if err != nil {
		return fmt.Errorf("record supplier sku %s/%s: %w", tenantID, supplierSKU, err)
	}
	return nil
}

// ListSupplierSKUs returns every supplier SKU seen for a tenant.
func (db *DB) ListSupplierSKUs(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT supplier_sku FROM supplier_skus WHERE tenant_id = ? ORDER BY supplier_sku`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list supplier skus: %w", err)
	}
	defer rows.Close()

	var skus []string
	for rows.Next() {
		var sku string
		if err := rows.Scan(&sku); err != nil {
			return nil, fmt.Errorf("scan supplier sku: %w", err)
		}
		skus = append(skus, sku)
	}
	return skus, rows.Err()
}

func scanMapping(row rowScanner) (*models.SKUMapping, error) {
	var m models.SKUMapping
	var active int
	err := row.Scan(&m.ID, &m.TenantID, &m.SupplierSKU, &m.MasterSKU, &m.MappingType,
		&m.ConfidenceScore, &active, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.Active = active == 1
	return &m, nil
}
