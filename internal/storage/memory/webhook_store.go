package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/skuworks/catalog-importer/internal/catalog"
)

// WebhookStore provides an in-memory catalog.WebhookStore.
type WebhookStore struct {
	mu       sync.RWMutex
	webhooks map[string]catalog.Webhook
}

// NewWebhookStore constructs a WebhookStore.
func NewWebhookStore() *WebhookStore {
	return &WebhookStore{webhooks: make(map[string]catalog.Webhook)}
}

// CreateWebhook stores a new subscription.
func (s *WebhookStore) CreateWebhook(_ context.Context, wh catalog.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.webhooks[wh.ID]; exists {
		return errors.New("webhook already exists")
	}
	s.webhooks[wh.ID] = cloneWebhook(wh)
	return nil
}

// UpdateWebhook replaces an existing subscription.
func (s *WebhookStore) UpdateWebhook(_ context.Context, wh catalog.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.webhooks[wh.ID]; !ok {
		return catalog.ErrNotFound
	}
	s.webhooks[wh.ID] = cloneWebhook(wh)
	return nil
}

// DeleteWebhook removes a subscription.
func (s *WebhookStore) DeleteWebhook(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.webhooks[id]; !ok {
		return catalog.ErrNotFound
	}
	delete(s.webhooks, id)
	return nil
}

// GetWebhook fetches a subscription by ID.
func (s *WebhookStore) GetWebhook(_ context.Context, id string) (catalog.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wh, ok := s.webhooks[id]
	if !ok {
		return catalog.Webhook{}, catalog.ErrNotFound
	}
	return cloneWebhook(wh), nil
}

// ListWebhooks returns every subscription ordered by creation time.
func (s *WebhookStore) ListWebhooks(_ context.Context) ([]catalog.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Webhook, 0, len(s.webhooks))
	for _, wh := range s.webhooks {
		out = append(out, cloneWebhook(wh))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListActiveByEvent returns active subscriptions matching the event type.
func (s *WebhookStore) ListActiveByEvent(_ context.Context, et catalog.EventType) ([]catalog.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.Webhook
	for _, wh := range s.webhooks {
		if wh.IsActive && wh.EventType == et {
			out = append(out, cloneWebhook(wh))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func cloneWebhook(wh catalog.Webhook) catalog.Webhook {
	cp := wh
	if wh.Headers != nil {
		cp.Headers = make(map[string]string, len(wh.Headers))
		for k, v := range wh.Headers {
			cp.Headers[k] = v
		}
	}
	return cp
}
