package catalog

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CSV columns recognized by the validator. Required columns must be present
// and non-empty; price and is_active are optional.
const (
	ColumnSKU         = "sku"
	ColumnName        = "name"
	ColumnDescription = "description"
	ColumnPrice       = "price"
	ColumnIsActive    = "is_active"
)

// RequiredColumns lists the header columns an upload must carry.
func RequiredColumns() []string {
	return []string{ColumnSKU, ColumnName, ColumnDescription}
}

var truthyTokens = map[string]bool{
	"true": true, "1": true, "yes": true, "t": true, "y": true,
	"false": false, "0": false, "no": false, "f": false, "n": false,
}

// ValidateRow checks one raw CSV row and returns either a normalized record
// or a row-scoped error. It is a pure function; a failure never aborts the
// containing job.
func ValidateRow(rowNumber int, raw map[string]string) (NormalizedRecord, *RowError) {
	sku := strings.TrimSpace(raw[ColumnSKU])
	if sku == "" {
		return NormalizedRecord{}, rowError(rowNumber, "sku is required")
	}
	name := strings.TrimSpace(raw[ColumnName])
	if name == "" {
		return NormalizedRecord{}, rowError(rowNumber, "name is required")
	}
	description := strings.TrimSpace(raw[ColumnDescription])
	if description == "" {
		return NormalizedRecord{}, rowError(rowNumber, "description is required")
	}

	rec := NormalizedRecord{
		RowNumber:   rowNumber,
		SKU:         sku,
		SKUFold:     FoldSKU(sku),
		Name:        name,
		Description: description,
		IsActive:    true,
	}

	if rawPrice := strings.TrimSpace(raw[ColumnPrice]); rawPrice != "" {
		price, err := strconv.ParseFloat(rawPrice, 64)
		if err != nil || math.IsNaN(price) || math.IsInf(price, 0) {
			return NormalizedRecord{}, rowError(rowNumber, fmt.Sprintf("invalid price %q", rawPrice))
		}
		if price < 0 {
			return NormalizedRecord{}, rowError(rowNumber, fmt.Sprintf("price must not be negative, got %q", rawPrice))
		}
		rec.Price = &price
	}

	if rawActive := strings.TrimSpace(raw[ColumnIsActive]); rawActive != "" {
		active, ok := truthyTokens[strings.ToLower(rawActive)]
		if !ok {
			return NormalizedRecord{}, rowError(rowNumber, fmt.Sprintf("invalid is_active %q", rawActive))
		}
		rec.IsActive = active
	}

	return rec, nil
}

func rowError(rowNumber int, reason string) *RowError {
	return &RowError{RowNumber: rowNumber, Reason: reason}
}
