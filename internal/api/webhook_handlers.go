package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/skuworks/catalog-importer/internal/catalog"
)

type webhookRequest struct {
	URL       string            `json:"url"`
	EventType string            `json:"event_type"`
	IsActive  *bool             `json:"is_active"`
	Headers   map[string]string `json:"headers"`
}

func (req *webhookRequest) validate() string {
	req.URL = strings.TrimSpace(req.URL)
	req.EventType = strings.TrimSpace(req.EventType)
	if req.URL == "" {
		return "url is required"
	}
	parsed, err := url.Parse(req.URL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "url must be a valid http or https URL"
	}
	if !catalog.ValidEventType(req.EventType) {
		return "event_type must be one of the supported event types"
	}
	return ""
}

func (s *Server) createWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	id, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate webhook id")
		return
	}
	hook := catalog.Webhook{
		ID:        id,
		URL:       req.URL,
		EventType: catalog.EventType(req.EventType),
		IsActive:  req.IsActive == nil || *req.IsActive,
		Headers:   req.Headers,
		CreatedAt: s.clock.Now(),
	}
	if err := s.webhooks.CreateWebhook(r.Context(), hook); err != nil {
		s.logger.Error("create webhook failed", zap.String("webhook_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create webhook")
		return
	}
	writeJSON(w, http.StatusCreated, hook)
}

func (s *Server) listWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.webhooks.ListWebhooks(r.Context())
	if err != nil {
		s.logger.Error("list webhooks failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": hooks})
}

func (s *Server) getWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "webhook_id")
	hook, err := s.webhooks.GetWebhook(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		s.logger.Error("get webhook failed", zap.String("webhook_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load webhook")
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

func (s *Server) updateWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "webhook_id")

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	existing, err := s.webhooks.GetWebhook(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		s.logger.Error("get webhook failed", zap.String("webhook_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load webhook")
		return
	}

	hook := catalog.Webhook{
		ID:        id,
		URL:       req.URL,
		EventType: catalog.EventType(req.EventType),
		IsActive:  req.IsActive == nil || *req.IsActive,
		Headers:   req.Headers,
		CreatedAt: existing.CreatedAt,
	}
	if err := s.webhooks.UpdateWebhook(r.Context(), hook); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		s.logger.Error("update webhook failed", zap.String("webhook_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update webhook")
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

func (s *Server) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "webhook_id")
	if err := s.webhooks.DeleteWebhook(r.Context(), id); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		s.logger.Error("delete webhook failed", zap.String("webhook_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete webhook")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// testWebhook handles POST /v1/webhooks/{webhook_id}/test. The delivery runs
// synchronously with a single attempt so the caller sees the endpoint's
// actual response.
func (s *Server) testWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "webhook_id")
	result, err := s.dispatcher.Test(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		s.logger.Error("test webhook failed", zap.String("webhook_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to test webhook")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
