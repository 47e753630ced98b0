// Package api exposes the HTTP interface for the importer service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skuworks/catalog-importer/internal/catalog"
	"github.com/skuworks/catalog-importer/internal/config"
	"github.com/skuworks/catalog-importer/internal/importer"
	"github.com/skuworks/catalog-importer/internal/metrics"
	"github.com/skuworks/catalog-importer/internal/progress"
	"github.com/skuworks/catalog-importer/internal/webhook"
)

// Deps bundles the collaborators the HTTP layer wires together.
type Deps struct {
	Products   catalog.ProductStore
	Jobs       catalog.JobStore
	Webhooks   catalog.WebhookStore
	Blobs      catalog.BlobStore
	Broker     *progress.Broker
	Controller *importer.Controller
	Dispatcher *webhook.Dispatcher
	Events     catalog.EventSink
	Hasher     catalog.Hasher
	IDGen      catalog.IDGenerator
	Clock      catalog.Clock
	Logger     *zap.Logger
}

// Server wires HTTP handlers to the import pipeline and stores.
type Server struct {
	router     chi.Router
	products   catalog.ProductStore
	jobs       catalog.JobStore
	webhooks   catalog.WebhookStore
	blobs      catalog.BlobStore
	broker     *progress.Broker
	controller *importer.Controller
	dispatcher *webhook.Dispatcher
	events     catalog.EventSink
	hasher     catalog.Hasher
	idGen      catalog.IDGenerator
	clock      catalog.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		products:   deps.Products,
		jobs:       deps.Jobs,
		webhooks:   deps.Webhooks,
		blobs:      deps.Blobs,
		broker:     deps.Broker,
		controller: deps.Controller,
		dispatcher: deps.Dispatcher,
		events:     deps.Events,
		hasher:     deps.Hasher,
		idGen:      deps.IDGen,
		clock:      deps.Clock,
		cfg:        cfg,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/imports", func(r chi.Router) {
			r.Post("/", s.createImport)
			r.Get("/", s.listImports)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getImport)
				r.Get("/events", s.streamImportEvents)
			})
		})
		r.Route("/products", func(r chi.Router) {
			r.Post("/", s.createProduct)
			r.Get("/", s.listProducts)
			r.Route("/{sku}", func(r chi.Router) {
				r.Get("/", s.getProduct)
				r.Put("/", s.updateProduct)
				r.Delete("/", s.deleteProduct)
			})
		})
		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/", s.createWebhook)
			r.Get("/", s.listWebhooks)
			r.Route("/{webhook_id}", func(r chi.Router) {
				r.Get("/", s.getWebhook)
				r.Put("/", s.updateWebhook)
				r.Delete("/", s.deleteWebhook)
				r.Post("/test", s.testWebhook)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

// responseWriter captures the status code and passes streaming interfaces
// through, which the SSE endpoint depends on.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
