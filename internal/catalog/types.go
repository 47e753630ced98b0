// Package catalog defines core types shared across subsystems.
package catalog

import (
	"strings"
	"time"
)

// Product is a catalog entry keyed by a case-insensitive SKU.
type Product struct {
	SKU         string     `json:"sku"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Price       *float64   `json:"price,omitempty"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// FoldSKU returns the canonical case-folded form used for uniqueness checks.
func FoldSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

// NormalizedRecord is one CSV row after validation. SKU keeps the original
// casing for display; SKUFold is the canonical form compared at the store.
type NormalizedRecord struct {
	RowNumber   int
	SKU         string
	SKUFold     string
	Name        string
	Description string
	Price       *float64
	IsActive    bool
}

// RowError is a validation or persistence failure scoped to one CSV row.
type RowError struct {
	RowNumber int    `json:"row_number"`
	Reason    string `json:"reason"`
}

// RowStatus classifies the outcome of applying one row against the store.
type RowStatus string

// Row outcomes produced by the batch upserter.
const (
	RowCreated RowStatus = "created"
	RowUpdated RowStatus = "updated"
	RowFailed  RowStatus = "failed"
)

// RowOutcome reports what happened to a single row within a chunk.
type RowOutcome struct {
	RowNumber int
	Status    RowStatus
	Reason    string
}

// JobStatus represents the lifecycle state of an import job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status ends the job lifecycle.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ImportJob tracks one CSV import from submission to its terminal state.
type ImportJob struct {
	ID            string     `json:"job_id"`
	Filename      string     `json:"filename"`
	Status        JobStatus  `json:"status"`
	TotalRows     int        `json:"total_rows"`
	ProcessedRows int        `json:"processed_rows"`
	FailedRows    int        `json:"failed_rows"`
	Error         string     `json:"error,omitempty"`
	RowErrors     []RowError `json:"row_errors,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Progress derives the 0-100 completion percentage. A job with no data rows
// reports 100 once terminal so header-only files still read as finished.
func (j ImportJob) Progress() int {
	if j.TotalRows <= 0 {
		if j.Status.Terminal() {
			return 100
		}
		return 0
	}
	p := j.ProcessedRows * 100 / j.TotalRows
	if p > 100 {
		p = 100
	}
	return p
}

// Snapshot is an immutable point-in-time view of a job's counters and status.
type Snapshot struct {
	JobID         string    `json:"job_id"`
	Status        JobStatus `json:"status"`
	TotalRows     int       `json:"total_rows"`
	ProcessedRows int       `json:"processed_rows"`
	FailedRows    int       `json:"failed_rows"`
	Progress      int       `json:"progress"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// SnapshotOf projects a job into its progress snapshot form.
func SnapshotOf(job ImportJob, at time.Time) Snapshot {
	return Snapshot{
		JobID:         job.ID,
		Status:        job.Status,
		TotalRows:     job.TotalRows,
		ProcessedRows: job.ProcessedRows,
		FailedRows:    job.FailedRows,
		Progress:      job.Progress(),
		Error:         job.Error,
		Timestamp:     at,
	}
}

// EventType identifies a lifecycle occurrence eligible for webhook delivery.
type EventType string

// Event types exposed for webhook configuration.
const (
	EventImportCompleted EventType = "import.completed"
	EventImportFailed    EventType = "import.failed"
	EventProductCreated  EventType = "product.created"
	EventProductUpdated  EventType = "product.updated"
	EventProductDeleted  EventType = "product.deleted"
)

// EventTypes lists every supported event type.
func EventTypes() []EventType {
	return []EventType{
		EventImportCompleted,
		EventImportFailed,
		EventProductCreated,
		EventProductUpdated,
		EventProductDeleted,
	}
}

// ValidEventType reports whether s names a supported event type.
func ValidEventType(s string) bool {
	for _, et := range EventTypes() {
		if string(et) == s {
			return true
		}
	}
	return false
}

// Webhook is a delivery subscription for one event type.
type Webhook struct {
	ID        string            `json:"id"`
	URL       string            `json:"url"`
	EventType EventType         `json:"event_type"`
	IsActive  bool              `json:"is_active"`
	Headers   map[string]string `json:"headers,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// WebhookDelivery is one pending delivery of an event to a single webhook.
// The endpoint fields are captured at enqueue time so a concurrent update or
// delete of the webhook never changes an in-flight delivery.
type WebhookDelivery struct {
	WebhookID string
	URL       string
	Headers   map[string]string
	EventType EventType
	Payload   []byte
}
