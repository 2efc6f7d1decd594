package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"mlsync/internal/models"

	"github.com/xuri/excelize/v2"
)

// handleMappingExport streams the reconciliation report as an XLSX
// workbook with one sheet per partition.
func (s *Server) handleMappingExport(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	report, err := s.engine.Report(r.Context(), tenantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	file, err := buildReportWorkbook(report)
	if err != nil {
		s.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("failed to build export workbook")
		writeError(w, http.StatusInternalServerError, "failed to build export")
		return
	}
	defer file.Close()

	filename := fmt.Sprintf("sku-report_%s_%s.xlsx", tenantID, time.Now().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	if err := file.Write(w); err != nil {
		s.logger.Error().Err(err).Msg("failed to stream export workbook")
	}
}

func buildReportWorkbook(report *models.ReconciliationResult) (*excelize.File, error) {
	f := excelize.NewFile()

	const mappedSheet = "Mapped"
	if err := f.SetSheetName("Sheet1", mappedSheet); err != nil {
		return nil, err
	}

	headers := []string{"Supplier SKU", "Master SKU", "Type", "Confidence", "Created At"}
	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(mappedSheet, cell, h); err != nil {
			return nil, err
		}
	}
	for i, m := range report.Mapped {
		row := i + 2
		values := []any{m.SupplierSKU, m.MasterSKU, string(m.MappingType), m.ConfidenceScore, m.CreatedAt.Format(time.RFC3339)}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(mappedSheet, cell, v); err != nil {
				return nil, err
			}
		}
	}

	const pendingSheet = "Pending"
	if _, err := f.NewSheet(pendingSheet); err != nil {
		return nil, err
	}
	if err := f.SetCellValue(pendingSheet, "A1", "Supplier SKU"); err != nil {
		return nil, err
	}
	for i, sku := range report.Pending {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetCellValue(pendingSheet, cell, sku); err != nil {
			return nil, err
		}
	}

	const conflictSheet = "Conflicts"
	if _, err := f.NewSheet(conflictSheet); err != nil {
		return nil, err
	}
	if err := f.SetCellValue(conflictSheet, "A1", "Supplier SKU"); err != nil {
		return nil, err
	}
	if err := f.SetCellValue(conflictSheet, "B1", "Candidates"); err != nil {
		return nil, err
	}
	for i, c := range report.Conflicts {
		row := i + 2
		cellA, _ := excelize.CoordinatesToCellName(1, row)
		cellB, _ := excelize.CoordinatesToCellName(2, row)
		if err := f.SetCellValue(conflictSheet, cellA, c.SupplierSKU); err != nil {
			return nil, err
		}
		if err := f.SetCellValue(conflictSheet, cellB, strings.Join(c.Candidates, ", ")); err != nil {
			return nil, err
		}
	}

	return f, nil
}
