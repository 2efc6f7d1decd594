package reconcile

import (
	"strings"

	"mlsync/internal/models"
)

// ParseBulkText parses the plain-text bulk mapping format: one
// "supplier_sku,master_sku" pair per line. Blank lines and lines
// starting with # are skipped, and so is any line that does not split
// into exactly two non-empty fields; surrounding whitespace is trimmed.
// Dropped lines are not an error, the remaining pairs still apply.
func ParseBulkText(text string) []models.MappingPair {
	var pairs []models.MappingPair

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) != 2 {
			continue
		}

		supplier := strings.TrimSpace(parts[0])
		master := strings.TrimSpace(parts[1])
		if supplier == "" || master == "" {
			continue
		}

		pairs = append(pairs, models.MappingPair{SupplierSKU: supplier, MasterSKU: master})
	}
	return pairs
}
