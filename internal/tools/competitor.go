package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/datadeskhq/datadesk/internal/classify"
	"github.com/datadeskhq/datadesk/internal/warehouse"
)

// productCodeRe matches catalog-style product codes: an alphabetic prefix with
// a numeric or alphanumeric suffix, with or without a hyphen (VX-2000, TB450).
var productCodeRe = regexp.MustCompile(`\b([A-Z]{1,4}-[A-Z0-9]{3,10}|[A-Z]{2,4}[0-9]{2,6})\b`)

// competitorCueRe matches phrasing that signals a cross-reference request.
var competitorCueRe = regexp.MustCompile(`(?i)\b(competitor|equivalent|cross[- ]?ref|alternative to|replacement for|our version of|match(?:es)? for)\b`)

// CompetitorMapper maps competitor product identifiers to the in-house
// catalog: exact keyed lookup first, fuzzy name search as a second pass for
// keys the mapping table does not know.
type CompetitorMapper struct {
	store        warehouse.Querier
	mappingTable string
	productTable string
}

// NewCompetitorMapper creates the mapper over the given store and tables.
func NewCompetitorMapper(store warehouse.Querier, mappingTable, productTable string) *CompetitorMapper {
	return &CompetitorMapper{
		store:        store,
		mappingTable: mappingTable,
		productTable: productTable,
	}
}

// Descriptor returns the mapper wrapped as a registrable direct tool.
func (m *CompetitorMapper) Descriptor() *Descriptor {
	return &Descriptor{
		Name:        "competitor_mapping",
		Description: "Maps competitor product codes to equivalent in-house products via the cross-reference table, with fuzzy name search for unknown codes.",
		Matches:     m.Matches,
		Execute:     m.Execute,
		ExampleTriggers: []string{
			"What is our equivalent of the VX-2000?",
			"Do we have a replacement for competitor part TB450?",
			"Find the cross-reference for AC-550X",
		},
	}
}

// Matches accepts the question when the classifier extracted a competitor
// product entity, or when the question pairs a product code with
// cross-reference phrasing.
func (m *CompetitorMapper) Matches(question string, record *classify.Record) bool {
	if record.Entities.Has("competitor_product") {
		return true
	}
	return competitorCueRe.MatchString(question) && productCodeRe.MatchString(strings.ToUpper(question))
}

// Execute looks up each competitor key. Keys found in the mapping table go to
// MatchedInputs; the rest get one fuzzy pass over the product master and land
// in UnmatchedInputs if that also finds nothing. The partition always covers
// the full key set.
func (m *CompetitorMapper) Execute(ctx context.Context, question string, record *classify.Record) (*Result, error) {
	keys := m.extractKeys(question, record)
	if len(keys) == 0 {
		return &Result{
			Rows:            []warehouse.Row{},
			MatchedInputs:   []string{},
			UnmatchedInputs: []string{},
		}, nil
	}

	result := &Result{
		Rows:            []warehouse.Row{},
		MatchedInputs:   []string{},
		UnmatchedInputs: []string{},
	}
	var queries []string

	for _, key := range keys {
		rows, query, err := m.exactLookup(ctx, key)
		if err != nil {
			return nil, err
		}
		queries = append(queries, query)

		if len(rows) == 0 {
			rows, query, err = m.fuzzyLookup(ctx, key)
			if err != nil {
				return nil, err
			}
			queries = append(queries, query)
		}

		if len(rows) == 0 {
			result.UnmatchedInputs = append(result.UnmatchedInputs, key)
			continue
		}
		result.MatchedInputs = append(result.MatchedInputs, key)
		result.Rows = append(result.Rows, rows...)
	}

	result.RowCount = len(result.Rows)
	result.ExecutedQuery = strings.Join(queries, ";\n")
	return result, nil
}

// extractKeys collects competitor identifiers from entities first, falling
// back to codes scanned out of the question text. Order is preserved and
// duplicates dropped.
func (m *CompetitorMapper) extractKeys(question string, record *classify.Record) []string {
	var raw []string
	raw = append(raw, record.Entities["competitor_product"]...)
	raw = append(raw, record.Entities["product_codes"]...)
	if len(raw) == 0 {
		raw = productCodeRe.FindAllString(strings.ToUpper(question), -1)
	}

	seen := make(map[string]bool, len(raw))
	var keys []string
	for _, k := range raw {
		k = strings.ToUpper(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}

func (m *CompetitorMapper) exactLookup(ctx context.Context, key string) ([]warehouse.Row, string, error) {
	query := fmt.Sprintf(
		`SELECT cm.competitor_code, cm.competitor_name, p.product_code, p.product_name, p.category, p.list_price
FROM %s cm
JOIN %s p ON p.product_code = cm.our_product_code
WHERE UPPER(cm.competitor_code) = '%s'`,
		m.mappingTable, m.productTable, escapeLiteral(key))

	res, err := m.store.Query(ctx, query)
	if err != nil {
		return nil, query, fmt.Errorf("competitor exact lookup for %q: %w", key, err)
	}
	return res.Rows, query, nil
}

func (m *CompetitorMapper) fuzzyLookup(ctx context.Context, key string) ([]warehouse.Row, string, error) {
	query := fmt.Sprintf(
		`SELECT p.product_code, p.product_name, p.category, p.list_price
FROM %s p
WHERE UPPER(p.product_name) LIKE '%%%s%%' OR UPPER(p.product_code) LIKE '%%%s%%'
LIMIT 10`,
		m.productTable, escapeLiteral(key), escapeLiteral(key))

	res, err := m.store.Query(ctx, query)
	if err != nil {
		return nil, query, fmt.Errorf("competitor fuzzy lookup for %q: %w", key, err)
	}
	return res.Rows, query, nil
}

// escapeLiteral doubles single quotes for inline SQL string literals.
func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
