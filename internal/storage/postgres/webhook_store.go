package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/skuworks/catalog-importer/internal/catalog"
)

// WebhookStore persists webhook subscriptions in Postgres. Custom headers
// are stored as a JSONB document.
type WebhookStore struct {
	db DB
}

// NewWebhookStore constructs a WebhookStore over an existing pool.
func NewWebhookStore(db DB) *WebhookStore {
	return &WebhookStore{db: db}
}

// CreateWebhook registers a new subscription.
func (s *WebhookStore) CreateWebhook(ctx context.Context, wh catalog.Webhook) error {
	headers, err := marshalHeaders(wh.Headers)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO webhooks (id, url, event_type, is_active, headers, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.db.Exec(ctx, query,
		wh.ID,
		wh.URL,
		string(wh.EventType),
		wh.IsActive,
		headers,
		wh.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}
	return nil
}

// UpdateWebhook replaces the stored subscription fields.
func (s *WebhookStore) UpdateWebhook(ctx context.Context, wh catalog.Webhook) error {
	headers, err := marshalHeaders(wh.Headers)
	if err != nil {
		return err
	}
	query := `
		UPDATE webhooks
		SET url = $2, event_type = $3, is_active = $4, headers = $5
		WHERE id = $1
	`
	tag, err := s.db.Exec(ctx, query,
		wh.ID,
		wh.URL,
		string(wh.EventType),
		wh.IsActive,
		headers,
	)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// DeleteWebhook removes a subscription.
func (s *WebhookStore) DeleteWebhook(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// GetWebhook fetches a subscription by ID.
func (s *WebhookStore) GetWebhook(ctx context.Context, id string) (catalog.Webhook, error) {
	query := `
		SELECT id, url, event_type, is_active, headers, created_at
		FROM webhooks
		WHERE id = $1
	`
	wh, err := scanWebhook(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Webhook{}, catalog.ErrNotFound
		}
		return catalog.Webhook{}, fmt.Errorf("get webhook: %w", err)
	}
	return wh, nil
}

// ListWebhooks returns every subscription ordered by creation time.
func (s *WebhookStore) ListWebhooks(ctx context.Context) ([]catalog.Webhook, error) {
	query := `
		SELECT id, url, event_type, is_active, headers, created_at
		FROM webhooks
		ORDER BY created_at
	`
	return s.queryWebhooks(ctx, query)
}

// ListActiveByEvent returns active subscriptions matching the event type.
func (s *WebhookStore) ListActiveByEvent(ctx context.Context, et catalog.EventType) ([]catalog.Webhook, error) {
	query := `
		SELECT id, url, event_type, is_active, headers, created_at
		FROM webhooks
		WHERE is_active AND event_type = $1
		ORDER BY created_at
	`
	return s.queryWebhooks(ctx, query, string(et))
}

func (s *WebhookStore) queryWebhooks(ctx context.Context, query string, args ...any) ([]catalog.Webhook, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []catalog.Webhook
	for rows.Next() {
		wh, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		hooks = append(hooks, wh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return hooks, nil
}

func scanWebhook(row pgx.Row) (catalog.Webhook, error) {
	var (
		wh        catalog.Webhook
		eventType string
		headers   []byte
	)
	err := row.Scan(&wh.ID, &wh.URL, &eventType, &wh.IsActive, &headers, &wh.CreatedAt)
	if err != nil {
		return catalog.Webhook{}, err
	}
	wh.EventType = catalog.EventType(eventType)
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &wh.Headers); err != nil {
			return catalog.Webhook{}, fmt.Errorf("decode headers: %w", err)
		}
	}
	return wh, nil
}

func marshalHeaders(headers map[string]string) ([]byte, error) {
	if len(headers) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("encode headers: %w", err)
	}
	return data, nil
}
