package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/skuworks/catalog-importer/internal/catalog"
)

const defaultProductListLimit = 100

type productRequest struct {
	SKU         string   `json:"sku"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       *float64 `json:"price"`
	IsActive    *bool    `json:"is_active"`
}

func (p *productRequest) validate() string {
	p.SKU = strings.TrimSpace(p.SKU)
	p.Name = strings.TrimSpace(p.Name)
	p.Description = strings.TrimSpace(p.Description)
	switch {
	case p.SKU == "":
		return "sku is required"
	case p.Name == "":
		return "name is required"
	case p.Description == "":
		return "description is required"
	case p.Price != nil && *p.Price < 0:
		return "price must not be negative"
	}
	return ""
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	now := s.clock.Now()
	product := catalog.Product{
		SKU:         catalog.FoldSKU(req.SKU),
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		IsActive:    req.IsActive == nil || *req.IsActive,
		CreatedAt:   now,
		UpdatedAt:   &now,
	}
	if err := s.products.Insert(r.Context(), product); err != nil {
		if errors.Is(err, catalog.ErrDuplicateSKU) {
			writeError(w, http.StatusConflict, "a product with this SKU already exists")
			return
		}
		s.logger.Error("create product failed", zap.String("sku", product.SKU), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create product")
		return
	}

	s.events.Dispatch(r.Context(), catalog.EventProductCreated, productEventData(product))
	writeJSON(w, http.StatusCreated, product)
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	limit := defaultProductListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	products, err := s.products.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("list products failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list products")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	sku := catalog.FoldSKU(chi.URLParam(r, "sku"))
	product, err := s.products.GetBySKU(r.Context(), sku)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		s.logger.Error("get product failed", zap.String("sku", sku), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load product")
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) updateProduct(w http.ResponseWriter, r *http.Request) {
	sku := catalog.FoldSKU(chi.URLParam(r, "sku"))

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	// The SKU comes from the URL; a body SKU only has to agree with it.
	if strings.TrimSpace(req.SKU) == "" {
		req.SKU = sku
	} else if catalog.FoldSKU(req.SKU) != sku {
		writeError(w, http.StatusBadRequest, "sku in body does not match URL")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	existing, err := s.products.GetBySKU(r.Context(), sku)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		s.logger.Error("get product failed", zap.String("sku", sku), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load product")
		return
	}

	now := s.clock.Now()
	product := catalog.Product{
		SKU:         sku,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		IsActive:    req.IsActive == nil || *req.IsActive,
		CreatedAt:   existing.CreatedAt,
		UpdatedAt:   &now,
	}
	if err := s.products.Update(r.Context(), product); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		s.logger.Error("update product failed", zap.String("sku", sku), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update product")
		return
	}

	s.events.Dispatch(r.Context(), catalog.EventProductUpdated, productEventData(product))
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) deleteProduct(w http.ResponseWriter, r *http.Request) {
	sku := catalog.FoldSKU(chi.URLParam(r, "sku"))
	if err := s.products.Delete(r.Context(), sku); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		s.logger.Error("delete product failed", zap.String("sku", sku), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete product")
		return
	}

	s.events.Dispatch(r.Context(), catalog.EventProductDeleted, map[string]any{"sku": sku})
	w.WriteHeader(http.StatusNoContent)
}

func productEventData(p catalog.Product) map[string]any {
	data := map[string]any{
		"sku":         p.SKU,
		"name":        p.Name,
		"description": p.Description,
		"is_active":   p.IsActive,
	}
	if p.Price != nil {
		data["price"] = *p.Price
	}
	return data
}
