package models

import "time"

// MappingType says how a SKU mapping came to exist.
type MappingType string

const (
	MappingTypeManual    MappingType = "manual"
	MappingTypeAutomatic MappingType = "automatic"
)

// SKUMapping links a supplier-side SKU to the canonical master SKU.
// At most one active mapping exists per (tenant, supplier SKU);
// superseded rows are kept inactive for auditability.
type SKUMapping struct {
	ID              int64       `json:"id"`
	TenantID        string      `json:"tenant_id"`
	SupplierSKU     string      `json:"supplier_sku"`
	MasterSKU       string      `json:"master_sku"`
	MappingType     MappingType `json:"mapping_type"`
	ConfidenceScore float64     `json:"confidence_score"`
	Active          bool        `json:"active"`
	CreatedAt       time.Time   `json:"created_at"`
}

// MappingSuggestion is the best auto-mapping candidate for a supplier SKU.
// A zero ConfidenceScore means the catalog produced no plausible match.
type MappingSuggestion struct {
	MasterSKU       string  `json:"master_sku"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// SKUConflict is a supplier SKU with two or more plausible master
// candidates and no clear winner.
type SKUConflict struct {
	SupplierSKU string   `json:"supplier_sku"`
	Candidates  []string `json:"candidates"`
}

// ReconciliationResult partitions every supplier SKU seen for a tenant.
// It is computed on demand, never persisted as a single object.
type ReconciliationResult struct {
	Mapped    []SKUMapping  `json:"mapped"`
	Pending   []string      `json:"pending"`
	Conflicts []SKUConflict `json:"conflicts"`
}

// MappingPair is one entry of a bulk mapping request.
type MappingPair struct {
	SupplierSKU string `json:"supplier_sku"`
	MasterSKU   string `json:"master_sku"`
}

// MasterSKU is one entry of the canonical catalog.
type MasterSKU struct {
	TenantID  string    `json:"tenant_id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
