package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/skuworks/catalog-importer/internal/catalog"
)

// ProductStore provides an in-memory catalog.ProductStore keyed by case-folded
// SKU. The mutex-guarded map is the atomic uniqueness arbiter for concurrent
// import jobs, mirroring the unique index the Postgres store relies on.
type ProductStore struct {
	mu       sync.RWMutex
	products map[string]catalog.Product
}

// NewProductStore constructs a ProductStore.
func NewProductStore() *ProductStore {
	return &ProductStore{products: make(map[string]catalog.Product)}
}

// Insert adds a product or returns catalog.ErrDuplicateSKU.
func (s *ProductStore) Insert(_ context.Context, p catalog.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := catalog.FoldSKU(p.SKU)
	if _, exists := s.products[key]; exists {
		return catalog.ErrDuplicateSKU
	}
	s.products[key] = p
	return nil
}

// Update overwrites the mutable fields of an existing product.
func (s *ProductStore) Update(_ context.Context, p catalog.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := catalog.FoldSKU(p.SKU)
	existing, ok := s.products[key]
	if !ok {
		return catalog.ErrNotFound
	}
	existing.Name = p.Name
	existing.Description = p.Description
	existing.Price = p.Price
	existing.IsActive = p.IsActive
	existing.UpdatedAt = p.UpdatedAt
	s.products[key] = existing
	return nil
}

// GetBySKU fetches a product by case-folded SKU.
func (s *ProductStore) GetBySKU(_ context.Context, skuFold string) (catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[catalog.FoldSKU(skuFold)]
	if !ok {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return p, nil
}

// Delete removes a product by case-folded SKU.
func (s *ProductStore) Delete(_ context.Context, skuFold string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := catalog.FoldSKU(skuFold)
	if _, ok := s.products[key]; !ok {
		return catalog.ErrNotFound
	}
	delete(s.products, key)
	return nil
}

// List returns products ordered by SKU, capped at limit.
func (s *ProductStore) List(_ context.Context, limit int) ([]catalog.Product, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	products := make([]catalog.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].SKU < products[j].SKU })
	if len(products) > limit {
		products = products[:limit]
	}
	return products, nil
}

// Len reports the number of stored products.
func (s *ProductStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.products)
}
