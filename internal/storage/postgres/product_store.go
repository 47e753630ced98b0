package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/skuworks/catalog-importer/internal/catalog"
)

// ProductStore persists products in Postgres. SKUs are stored in their
// canonical case-folded form, so the primary key enforces the
// case-insensitive uniqueness invariant.
type ProductStore struct {
	db DB
}

// NewProductStore constructs a ProductStore over an existing pool.
func NewProductStore(db DB) *ProductStore {
	return &ProductStore{db: db}
}

// Insert adds a new product or returns ErrDuplicateSKU on a key collision.
func (s *ProductStore) Insert(ctx context.Context, p catalog.Product) error {
	query := `
		INSERT INTO products (sku, name, description, price, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.Exec(ctx, query,
		catalog.FoldSKU(p.SKU),
		p.Name,
		p.Description,
		p.Price,
		p.IsActive,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if translated := translateError(err); errors.Is(translated, catalog.ErrDuplicateSKU) {
			return translated
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// Update overwrites the mutable fields of the row matching the case-folded
// SKU, or returns ErrNotFound.
func (s *ProductStore) Update(ctx context.Context, p catalog.Product) error {
	query := `
		UPDATE products
		SET name = $2, description = $3, price = $4, is_active = $5, updated_at = $6
		WHERE sku = $1
	`
	tag, err := s.db.Exec(ctx, query,
		catalog.FoldSKU(p.SKU),
		p.Name,
		p.Description,
		p.Price,
		p.IsActive,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// GetBySKU loads a product by case-folded SKU.
func (s *ProductStore) GetBySKU(ctx context.Context, skuFold string) (catalog.Product, error) {
	query := `
		SELECT sku, name, description, price, is_active, created_at, updated_at
		FROM products
		WHERE sku = $1
	`
	var p catalog.Product
	err := s.db.QueryRow(ctx, query, catalog.FoldSKU(skuFold)).Scan(
		&p.SKU,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Product{}, catalog.ErrNotFound
		}
		return catalog.Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// Delete removes the row matching the case-folded SKU.
func (s *ProductStore) Delete(ctx context.Context, skuFold string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM products WHERE sku = $1`, catalog.FoldSKU(skuFold))
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// List returns products ordered by SKU, capped at limit.
func (s *ProductStore) List(ctx context.Context, limit int) ([]catalog.Product, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT sku, name, description, price, is_active, created_at, updated_at
		FROM products
		ORDER BY sku
		LIMIT $1
	`
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []catalog.Product
	for rows.Next() {
		var p catalog.Product
		if err := rows.Scan(&p.SKU, &p.Name, &p.Description, &p.Price, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}
