package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/datadeskhq/datadesk/internal/warehouse"
)

// CompressionStats records how much prompt text the common-field folding
// saved. Persisted with the session for tuning.
type CompressionStats struct {
	Rows            int `json:"rows"`
	RowsIncluded    int `json:"rows_included"`
	OriginalChars   int `json:"original_chars"`
	CompressedChars int `json:"compressed_chars"`
}

// compressRows renders rows for an LLM prompt, folding fields whose value is
// identical across all rows into a single "common" header so per-row lines
// carry only what varies. At most maxRows rows are rendered; the remainder is
// summarized by count.
func compressRows(rows []warehouse.Row, maxRows int) (string, CompressionStats) {
	stats := CompressionStats{Rows: len(rows)}
	if len(rows) == 0 {
		return "(no rows)", stats
	}

	fields := sortedFields(rows[0])
	common := commonFields(rows, fields)

	included := rows
	if maxRows > 0 && len(included) > maxRows {
		included = included[:maxRows]
	}
	stats.RowsIncluded = len(included)

	var b strings.Builder
	if len(common) > 0 {
		b.WriteString("Common to all rows: ")
		parts := make([]string, 0, len(common))
		for _, field := range fields {
			if _, ok := common[field]; ok {
				parts = append(parts, fmt.Sprintf("%s=%v", field, common[field]))
			}
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("\n")
	}
	for i, row := range included {
		fmt.Fprintf(&b, "Row %d: ", i+1)
		parts := make([]string, 0, len(row))
		for _, field := range fields {
			if _, ok := common[field]; ok {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s=%v", field, row[field]))
		}
		if len(parts) == 0 {
			parts = append(parts, "(identical to common fields)")
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("\n")
	}
	if len(included) < len(rows) {
		fmt.Fprintf(&b, "… %d more rows omitted.\n", len(rows)-len(included))
	}

	compressed := b.String()
	stats.OriginalChars = uncompressedSize(rows, fields)
	stats.CompressedChars = len(compressed)
	return compressed, stats
}

// commonFields returns the fields whose value is identical in every row.
// Only fields present in all rows qualify.
func commonFields(rows []warehouse.Row, fields []string) map[string]interface{} {
	common := make(map[string]interface{})
	for _, field := range fields {
		first, ok := rows[0][field]
		if !ok {
			continue
		}
		same := true
		for _, row := range rows[1:] {
			val, ok := row[field]
			if !ok || fmt.Sprintf("%v", val) != fmt.Sprintf("%v", first) {
				same = false
				break
			}
		}
		if same && len(rows) > 1 {
			common[field] = first
		}
	}
	return common
}

func uncompressedSize(rows []warehouse.Row, fields []string) int {
	n := 0
	for _, row := range rows {
		for _, field := range fields {
			n += len(field) + len(fmt.Sprintf("%v", row[field])) + 2
		}
	}
	return n
}

func sortedFields(row warehouse.Row) []string {
	fields := make([]string, 0, len(row))
	for field := range row {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}
