package reconcile

import (
	"context"
	"fmt"
	"sort"

	"mlsync/internal/config"
	"mlsync/internal/database"
	"mlsync/internal/models"

	"github.com/rs/zerolog"
)

// Engine decides how supplier SKUs map onto the master catalog. It
// auto-accepts confident matches, surfaces suggestions for review, and
// flags ambiguous SKUs as conflicts. All policy comes from the
// configured thresholds.
type Engine struct {
	db      *database.DB
	matcher Matcher
	policy  config.ReconcilerConfig
	logger  *zerolog.Logger
}

func NewEngine(db *database.DB, matcher Matcher, policy config.ReconcilerConfig, logger *zerolog.Logger) *Engine {
	return &Engine{
		db:      db,
		matcher: matcher,
		policy:  policy,
		logger:  logger,
	}
}

// Resolution is the outcome of resolving one supplier SKU.
type Resolution struct {
	// Mapping is the active mapping, when one exists or was just created.
	Mapping *models.SKUMapping
	// Conflict is set when multiple master SKUs are plausible.
	Conflict *models.SKUConflict
}

// Resolved reports whether the SKU ended up with an active mapping.
func (r *Resolution) Resolved() bool { return r.Mapping != nil }

// ResolveSKU is the worker-facing entry point. It records the supplier
// SKU as seen, returns the existing mapping if one is active, and
// otherwise attempts an automatic mapping under the confidence policy.
// A nil Mapping in the result means the SKU stays pending (or in
// conflict) and the caller should skip the item.
func (e *Engine) ResolveSKU(ctx context.Context, tenantID, supplierSKU string) (*Resolution, error) {
	if err := e.db.RecordSupplierSKU(ctx, tenantID, supplierSKU); err != nil {
		return nil, err
	}

	existing, err := e.db.GetActiveMapping(ctx, tenantID, supplierSKU)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Resolution{Mapping: existing}, nil
	}

	catalog, err := e.db.ListMasterSKUs(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	scored := e.scoreAgainst(supplierSKU, catalog)
	if conflict := e.detectConflict(supplierSKU, scored); conflict != nil {
		e.logger.Debug().Str("tenant_id", tenantID).Str("supplier_sku", supplierSKU).
			Strs("candidates", conflict.Candidates).Msg("sku resolution ambiguous")
		return &Resolution{Conflict: conflict}, nil
	}

	if len(scored) == 0 || scored[0].ConfidenceScore < e.policy.AutoAcceptThreshold {
		return &Resolution{}, nil
	}

	mapping := &models.SKUMapping{
		TenantID:        tenantID,
		SupplierSKU:     supplierSKU,
		MasterSKU:       scored[0].MasterSKU,
		MappingType:     models.MappingTypeAutomatic,
		ConfidenceScore: scored[0].ConfidenceScore,
	}
	if err := e.db.UpsertMapping(ctx, mapping); err != nil {
		return nil, err
	}

	e.logger.Info().Str("tenant_id", tenantID).Str("supplier_sku", supplierSKU).
		Str("master_sku", mapping.MasterSKU).Float64("confidence", mapping.ConfidenceScore).
		Msg("sku auto-mapped")
	return &Resolution{Mapping: mapping}, nil
}

// Suggest ranks master SKU candidates for a supplier SKU. Only
// candidates at or above the suggest threshold are returned, best
// first. An empty catalog yields no suggestions.
func (e *Engine) Suggest(ctx context.Context, tenantID, supplierSKU string) ([]models.MappingSuggestion, error) {
	catalog, err := e.db.ListMasterSKUs(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	scored := e.scoreAgainst(supplierSKU, catalog)
	suggestions := make([]models.MappingSuggestion, 0, len(scored))
	for _, s := range scored {
		if s.ConfidenceScore >= e.policy.SuggestThreshold {
			suggestions = append(suggestions, s)
		}
	}
	return suggestions, nil
}

// CreateManualMapping records an operator decision. The master SKU must
// exist in the catalog; confidence is always 1.0 and the new mapping
// supersedes whatever was active.
func (e *Engine) CreateManualMapping(ctx context.Context, tenantID, supplierSKU, masterSKU string) (*models.SKUMapping, error) {
	if supplierSKU == "" || masterSKU == "" {
		return nil, fmt.Errorf("%w: supplier_sku and master_sku are required", models.ErrValidation)
	}

	known, err := e.masterExists(ctx, tenantID, masterSKU)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, fmt.Errorf("%w: master sku %s is not in the catalog", models.ErrValidation, masterSKU)
	}

	mapping := &models.SKUMapping{
		TenantID:        tenantID,
		SupplierSKU:     supplierSKU,
		MasterSKU:       masterSKU,
		MappingType:     models.MappingTypeManual,
		ConfidenceScore: 1.0,
	}
	if err := e.db.UpsertMapping(ctx, mapping); err != nil {
		return nil, err
	}
	if err := e.db.RecordSupplierSKU(ctx, tenantID, supplierSKU); err != nil {
		return nil, err
	}

	e.logger.Info().Str("tenant_id", tenantID).Str("supplier_sku", supplierSKU).
		Str("master_sku", masterSKU).Msg("manual mapping created")
	return mapping, nil
}

// BulkCreateMappings applies many manual mappings, skipping pairs whose
// master SKU is unknown. It returns how many were applied.
func (e *Engine) BulkCreateMappings(ctx context.Context, tenantID string, pairs []models.MappingPair) (int, error) {
	applied := 0
	for _, pair := range pairs {
		_, err := e.CreateManualMapping(ctx, tenantID, pair.SupplierSKU, pair.MasterSKU)
		if err != nil {
			e.logger.Warn().Err(err).Str("tenant_id", tenantID).
				Str("supplier_sku", pair.SupplierSKU).Msg("bulk mapping entry skipped")
			continue
		}
		applied++
	}
	return applied, nil
}

// Report partitions every supplier SKU seen for a tenant into mapped,
// pending, and conflicting. Conflicts are computed from the current
// catalog on every call, never persisted.
func (e *Engine) Report(ctx context.Context, tenantID string) (*models.ReconciliationResult, error) {
	mappings, err := e.db.ListActiveMappings(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	mappedBySupplier := make(map[string]struct{}, len(mappings))
	for _, m := range mappings {
		mappedBySupplier[m.SupplierSKU] = struct{}{}
	}

	seen, err := e.db.ListSupplierSKUs(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	catalog, err := e.db.ListMasterSKUs(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	result := &models.ReconciliationResult{
		Mapped:    mappings,
		Pending:   []string{},
		Conflicts: []models.SKUConflict{},
	}
	for _, sku := range seen {
		if _, ok := mappedBySupplier[sku]; ok {
			continue
		}
		if conflict := e.detectConflict(sku, e.scoreAgainst(sku, catalog)); conflict != nil {
			result.Conflicts = append(result.Conflicts, *conflict)
			continue
		}
		result.Pending = append(result.Pending, sku)
	}
	return result, nil
}

// scoreAgainst scores one supplier SKU against the whole catalog,
// best candidates first.
func (e *Engine) scoreAgainst(supplierSKU string, catalog []models.MasterSKU) []models.MappingSuggestion {
	scored := make([]models.MappingSuggestion, 0, len(catalog))
	for _, entry := range catalog {
		scored = append(scored, models.MappingSuggestion{
			MasterSKU:       entry.SKU,
			ConfidenceScore: e.matcher.Score(supplierSKU, entry.SKU),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].ConfidenceScore > scored[j].ConfidenceScore
	})
	return scored
}

// detectConflict reports ambiguity: two or more candidates at or above
// the conflict threshold whose scores sit within the ambiguity margin
// of the best one.
func (e *Engine) detectConflict(supplierSKU string, scored []models.MappingSuggestion) *models.SKUConflict {
	if len(scored) < 2 || scored[0].ConfidenceScore < e.policy.ConflictThreshold {
		return nil
	}

	candidates := []string{scored[0].MasterSKU}
	for _, s := range scored[1:] {
		if s.ConfidenceScore < e.policy.ConflictThreshold {
			break
		}
		if scored[0].ConfidenceScore-s.ConfidenceScore <= e.policy.AmbiguityMargin {
			candidates = append(candidates, s.MasterSKU)
		}
	}
	if len(candidates) < 2 {
		return nil
	}
	return &models.SKUConflict{SupplierSKU: supplierSKU, Candidates: candidates}
}

func (e *Engine) masterExists(ctx context.Context, tenantID, masterSKU string) (bool, error) {
	catalog, err := e.db.ListMasterSKUs(ctx, tenantID)
	if err != nil {
		return false, err
	}
	for _, entry := range catalog {
		if entry.SKU == masterSKU {
			return true, nil
		}
	}
	return false, nil
}
