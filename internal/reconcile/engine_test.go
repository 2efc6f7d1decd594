package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"mlsync/internal/config"
	"mlsync/internal/database"
	"mlsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubMatcher returns a fixed score per master SKU.
type stubMatcher struct {
	scores map[string]float64
}

func (m *stubMatcher) Score(_, masterSKU string) float64 {
	return m.scores[masterSKU]
}

func testPolicy() config.ReconcilerConfig {
	return config.ReconcilerConfig{
		AutoAcceptThreshold: 0.8,
		SuggestThreshold:    0.5,
		ConflictThreshold:   0.75,
		AmbiguityMargin:     0.05,
	}
}

func setupEngine(t *testing.T, matcher Matcher) (*Engine, *database.DB) {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "reconcile_test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewEngine(db, matcher, testPolicy(), &logger), db
}

func seedMasters(t *testing.T, db *database.DB, tenantID string, skus ...string) {
	t.Helper()
	for _, sku := range skus {
		require.NoError(t, db.UpsertMasterSKU(context.Background(),
			models.MasterSKU{TenantID: tenantID, SKU: sku, Name: sku}))
	}
}

func TestResolveSKU_AutoAcceptsConfidentMatch(t *testing.T) {
	matcher := &stubMatcher{scores: map[string]float64{"MST-001": 0.92, "MST-002": 0.40}}
	engine, db := setupEngine(t, matcher)
	ctx := context.Background()
	seedMasters(t, db, "ten-1", "MST-001", "MST-002")

	res, err := engine.ResolveSKU(ctx, "ten-1", "SUP-001")
	require.NoError(t, err)
	require.True(t, res.Resolved())
	assert.Equal(t, "MST-001", res.Mapping.MasterSKU)
	assert.Equal(t, models.MappingTypeAutomatic, res.Mapping.MappingType)
	assert.Equal(t, 0.92, res.Mapping.ConfidenceScore)

	// The mapping was persisted and the supplier SKU recorded.
	stored, err := db.GetActiveMapping(ctx, "ten-1", "SUP-001")
	require.NoError(t, err)
	require.NotNil(t, stored)
	skus, err := db.ListSupplierSKUs(ctx, "ten-1")
	require.NoError(t, err)
	assert.Contains(t, skus, "SUP-001")
}

func TestResolveSKU_BelowThresholdStaysPending(t *testing.T) {
	matcher := &stubMatcher{scores: map[string]float64{"MST-001": 0.6}}
	engine, db := setupEngine(t, matcher)
	ctx := context.Background()
	seedMasters(t, db, "ten-1", "MST-001")

	res, err := engine.ResolveSKU(ctx, "ten-1", "SUP-001")
	require.NoError(t, err)
	assert.False(t, res.Resolved())
	assert.Nil(t, res.Conflict)

	stored, err := db.GetActiveMapping(ctx, "ten-1", "SUP-001")
	require.NoError(t, err)
	assert.Nil(t, stored, "no mapping is persisted below the auto-accept threshold")
}

func TestResolveSKU_EmptyCatalog(t *testing.T) {
	engine, _ := setupEngine(t, NewLevenshteinMatcher())

	res, err := engine.ResolveSKU(context.Background(), "ten-1", "SUP-001")
	require.NoError(t, err)
	assert.False(t, res.Resolved())
	assert.Nil(t, res.Conflict)
}

func TestResolveSKU_AmbiguousCandidatesConflict(t *testing.T) {
	// Two candidates above the conflict threshold within the margin:
	// neither is auto-accepted even though both clear 0.8.
	matcher := &stubMatcher{scores: map[string]float64{"MST-001": 0.91, "MST-002": 0.90}}
	engine, db := setupEngine(t, matcher)
	ctx := context.Background()
	seedMasters(t, db, "ten-1", "MST-001", "MST-002")

	res, err := engine.ResolveSKU(ctx, "ten-1", "SUP-001")
	require.NoError(t, err)
	assert.False(t, res.Resolved())
	require.NotNil(t, res.Conflict)
	assert.ElementsMatch(t, []string{"MST-001", "MST-002"}, res.Conflict.Candidates)

	stored, err := db.GetActiveMapping(ctx, "ten-1", "SUP-001")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestResolveSKU_ClearWinnerDespiteRunnerUp(t *testing.T) {
	// Runner-up clears the conflict threshold but sits outside the
	// ambiguity margin, so the best candidate wins.
	matcher := &stubMatcher{scores: map[string]float64{"MST-001": 0.95, "MST-002": 0.78}}
	engine, db := setupEngine(t, matcher)
	ctx := context.Background()
	seedMasters(t, db, "ten-1", "MST-001", "MST-002")

	res, err := engine.ResolveSKU(ctx, "ten-1", "SUP-001")
	require.NoError(t, err)
	require.True(t, res.Resolved())
	assert.Equal(t, "MST-001", res.Mapping.MasterSKU)
}

func TestResolveSKU_ExistingMappingWins(t *testing.T) {
	matcher := &stubMatcher{scores: map[string]float64{"MST-001": 0.99}}
	engine, db := setupEngine(t, matcher)
	ctx := context.Background()
	seedMasters(t, db, "ten-1", "MST-001", "MST-002")

	_, err := engine.CreateManualMapping(ctx, "ten-1", "SUP-001", "MST-002")
	require.NoError(t, err)

	res, err := engine.ResolveSKU(ctx, "ten-1", "SUP-001")
	require.NoError(t, err)
	require.True(t, res.Resolved())
	assert.Equal(t, "MST-002", res.Mapping.MasterSKU, "manual mapping is never re-scored")
	assert.Equal(t, models.MappingTypeManual, res.Mapping.MappingType)
}

func TestSuggest(t *testing.T) {
	matcher := &stubMatcher{scores: map[string]float64{
		"MST-001": 0.9,
		"MST-002": 0.55,
		"MST-003": 0.2,
	}}
	engine, db := setupEngine(t, matcher)
	ctx := context.Background()
	seedMasters(t, db, "ten-1", "MST-001", "MST-002", "MST-003")

	suggestions, err := engine.Suggest(ctx, "ten-1", "SUP-001")
	require.NoError(t, err)
	require.Len(t, suggestions, 2, "only candidates above the suggest threshold")
	assert.Equal(t, "MST-001", suggestions[0].MasterSKU)
	assert.Equal(t, "MST-002", suggestions[1].MasterSKU)
}

func TestCreateManualMapping(t *testing.T) {
	engine, db := setupEngine(t, NewLevenshteinMatcher())
	ctx := context.Background()
	seedMasters(t, db, "ten-1", "MST-001")

	mapping, err := engine.CreateManualMapping(ctx, "ten-1", "SUP-001", "MST-001")
	require.NoError(t, err)
	assert.Equal(t, 1.0, mapping.ConfidenceScore)
	assert.Equal(t, models.MappingTypeManual, mapping.MappingType)

	t.Run("UnknownMasterRejected", func(t *testing.T) {
		_, err := engine.CreateManualMapping(ctx, "ten-1", "SUP-002", "MST-999")
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrValidation))
	})

	t.Run("EmptySKURejected", func(t *testing.T) {
		_, err := engine.CreateManualMapping(ctx, "ten-1", "", "MST-001")
		assert.True(t, errors.Is(err, models.ErrValidation))
	})

	t.Run("OverridesAutomatic", func(t *testing.T) {
		seedMasters(t, db, "ten-1", "MST-002")
		_, err := engine.CreateManualMapping(ctx, "ten-1", "SUP-001", "MST-002")
		require.NoError(t, err)

		active, err := db.GetActiveMapping(ctx, "ten-1", "SUP-001")
		require.NoError(t, err)
		assert.Equal(t, "MST-002", active.MasterSKU)
	})
}

func TestBulkCreateMappings(t *testing.T) {
	engine, db := setupEngine(t, NewLevenshteinMatcher())
	ctx := context.Background()
	seedMasters(t, db, "ten-1", "MST-001", "MST-002")

	applied, err := engine.BulkCreateMappings(ctx, "ten-1", []models.MappingPair{
		{SupplierSKU: "SUP-001", MasterSKU: "MST-001"},
		{SupplierSKU: "SUP-002", MasterSKU: "MST-002"},
		{SupplierSKU: "SUP-003", MasterSKU: "MST-999"}, // unknown master, skipped
	})
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	active, err := db.ListActiveMappings(ctx, "ten-1")
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestReport(t *testing.T) {
	matcher := &stubMatcher{scores: map[string]float64{"MST-001": 0.91, "MST-002": 0.90}}
	engine, db := setupEngine(t, matcher)
	ctx := context.Background()
	seedMasters(t, db, "ten-1", "MST-001", "MST-002")

	// One mapped, one ambiguous, one recorded with no catalog hit at all.
	_, err := engine.CreateManualMapping(ctx, "ten-1", "SUP-MAPPED", "MST-001")
	require.NoError(t, err)
	require.NoError(t, db.RecordSupplierSKU(ctx, "ten-1", "SUP-AMBIG"))
	require.NoError(t, db.RecordSupplierSKU(ctx, "ten-1", "SUP-AMBIG-2"))

	report, err := engine.Report(ctx, "ten-1")
	require.NoError(t, err)

	require.Len(t, report.Mapped, 1)
	assert.Equal(t, "SUP-MAPPED", report.Mapped[0].SupplierSKU)

	// With the stub matcher every unmapped SKU scores {0.91, 0.90} and
	// lands in conflicts.
	require.Len(t, report.Conflicts, 2)
	assert.Empty(t, report.Pending)
}

func TestReport_Pending(t *testing.T) {
	matcher := &stubMatcher{scores: map[string]float64{"MST-001": 0.3}}
	engine, db := setupEngine(t, matcher)
	ctx := context.Background()
	seedMasters(t, db, "ten-1", "MST-001")
	require.NoError(t, db.RecordSupplierSKU(ctx, "ten-1", "SUP-001"))

	report, err := engine.Report(ctx, "ten-1")
	require.NoError(t, err)
	assert.Empty(t, report.Mapped)
	assert.Empty(t, report.Conflicts)
	assert.Equal(t, []string{"SUP-001"}, report.Pending)
}
