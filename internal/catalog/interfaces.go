package catalog

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateSKU signals an insert that collided with the case-insensitive
// SKU uniqueness constraint.
var ErrDuplicateSKU = errors.New("duplicate sku")

// ProductStore persists products with case-insensitive SKU uniqueness. The
// store's atomic uniqueness check is the sole arbiter between concurrent
// writers; no application-level lock is taken across jobs.
type ProductStore interface {
	// Insert adds a new product or returns ErrDuplicateSKU when a live row
	// already holds the case-folded SKU.
	Insert(ctx context.Context, p Product) error
	// Update overwrites name/description/price/is_active of the row matching
	// the case-folded SKU, or returns ErrNotFound.
	Update(ctx context.Context, p Product) error
	// GetBySKU loads a product by case-folded SKU or returns ErrNotFound.
	GetBySKU(ctx context.Context, skuFold string) (Product, error)
	// Delete removes the row matching the case-folded SKU or returns ErrNotFound.
	Delete(ctx context.Context, skuFold string) error
	// List returns products ordered by SKU, capped at limit.
	List(ctx context.Context, limit int) ([]Product, error)
}

// JobStore persists import job records.
type JobStore interface {
	CreateJob(ctx context.Context, job ImportJob) error
	// UpdateJob replaces the stored counters/status for a job.
	UpdateJob(ctx context.Context, job ImportJob) error
	GetJob(ctx context.Context, jobID string) (ImportJob, error)
	// ListJobs returns jobs most-recent-first, capped at limit.
	ListJobs(ctx context.Context, limit int) ([]ImportJob, error)
}

// WebhookStore persists webhook subscriptions. Lifecycle writes come from the
// CRUD handlers; the dispatcher only reads.
type WebhookStore interface {
	CreateWebhook(ctx context.Context, wh Webhook) error
	UpdateWebhook(ctx context.Context, wh Webhook) error
	DeleteWebhook(ctx context.Context, id string) error
	GetWebhook(ctx context.Context, id string) (Webhook, error)
	ListWebhooks(ctx context.Context) ([]Webhook, error)
	// ListActiveByEvent returns active subscriptions matching the event type.
	ListActiveByEvent(ctx context.Context, et EventType) ([]Webhook, error)
}

// BlobStore archives raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher mirrors lifecycle events to an external topic (Pub/Sub or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// DeliveryQueue buffers webhook deliveries between event producers and the
// delivery workers.
type DeliveryQueue interface {
	Enqueue(ctx context.Context, d WebhookDelivery) error
	// TryEnqueue pushes without blocking and fails when the queue is full.
	TryEnqueue(d WebhookDelivery) error
	Dequeue(ctx context.Context) (WebhookDelivery, error)
	Close()
	Len() int
}

// EventSink receives lifecycle events; the webhook dispatcher satisfies it.
// Implementations must return without blocking on delivery outcome.
type EventSink interface {
	Dispatch(ctx context.Context, et EventType, data map[string]any)
}

// Hasher computes digests used to name archived uploads.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and webhook IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
