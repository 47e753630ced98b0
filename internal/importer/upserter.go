package importer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/skuworks/catalog-importer/internal/catalog"
	"github.com/skuworks/catalog-importer/internal/metrics"
)

// Upserter applies validated records against the product store with
// insert-then-update semantics keyed by case-folded SKU.
type Upserter struct {
	products catalog.ProductStore
	clock    catalog.Clock
	logger   *zap.Logger
}

// NewUpserter constructs an Upserter.
func NewUpserter(products catalog.ProductStore, clock catalog.Clock, logger *zap.Logger) *Upserter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Upserter{
		products: products,
		clock:    clock,
		logger:   logger,
	}
}

// Apply processes one chunk in row order. Duplicate SKUs inside the chunk
// fail every occurrence after the first; surviving records are inserted, or
// updated when a live row already holds the SKU. One row's failure never
// affects its siblings.
func (u *Upserter) Apply(ctx context.Context, records []catalog.NormalizedRecord) []catalog.RowOutcome {
	outcomes := make([]catalog.RowOutcome, 0, len(records))
	seen := make(map[string]int, len(records))

	for _, rec := range records {
		if firstRow, dup := seen[rec.SKUFold]; dup {
			metrics.ObserveRow(string(catalog.RowFailed))
			outcomes = append(outcomes, catalog.RowOutcome{
				RowNumber: rec.RowNumber,
				Status:    catalog.RowFailed,
				Reason:    fmt.Sprintf("duplicate SKU in this batch (first occurrence at row %d)", firstRow),
			})
			continue
		}
		seen[rec.SKUFold] = rec.RowNumber

		outcome := u.applyOne(ctx, rec)
		metrics.ObserveRow(string(outcome.Status))
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (u *Upserter) applyOne(ctx context.Context, rec catalog.NormalizedRecord) catalog.RowOutcome {
	now := u.clock.Now()
	product := catalog.Product{
		SKU:         rec.SKUFold,
		Name:        rec.Name,
		Description: rec.Description,
		Price:       rec.Price,
		IsActive:    rec.IsActive,
		CreatedAt:   now,
		UpdatedAt:   &now,
	}

	err := u.products.Insert(ctx, product)
	if err == nil {
		return catalog.RowOutcome{RowNumber: rec.RowNumber, Status: catalog.RowCreated}
	}

	if errors.Is(err, catalog.ErrDuplicateSKU) {
		updateErr := u.products.Update(ctx, product)
		if updateErr == nil {
			return catalog.RowOutcome{RowNumber: rec.RowNumber, Status: catalog.RowUpdated}
		}
		err = updateErr
	}

	u.logger.Warn("row upsert failed",
		zap.Int("row", rec.RowNumber),
		zap.String("sku", rec.SKUFold),
		zap.Error(err),
	)
	return catalog.RowOutcome{
		RowNumber: rec.RowNumber,
		Status:    catalog.RowFailed,
		Reason:    err.Error(),
	}
}
