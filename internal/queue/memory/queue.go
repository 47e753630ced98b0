// Package memory provides the bounded delivery queue feeding webhook workers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/skuworks/catalog-importer/internal/catalog"
)

// ErrFull is returned by TryEnqueue when the queue has no capacity left.
var ErrFull = errors.New("queue full")

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan catalog.WebhookDelivery
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan catalog.WebhookDelivery, capacity),
	}
}

// Enqueue pushes a delivery into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, d catalog.WebhookDelivery) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- d:
		return nil
	}
}

// TryEnqueue pushes a delivery without blocking; event producers use it so a
// saturated queue never stalls them.
func (q *Queue) TryEnqueue(d catalog.WebhookDelivery) error {
	select {
	case q.ch <- d:
		return nil
	default:
		return ErrFull
	}
}

// Dequeue pops the next delivery, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (catalog.WebhookDelivery, error) {
	select {
	case <-ctx.Done():
		return catalog.WebhookDelivery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case d, ok := <-q.ch:
		if !ok {
			return catalog.WebhookDelivery{}, errors.New("queue closed")
		}
		return d, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}

// Len reports the number of queued deliveries.
func (q *Queue) Len() int {
	return len(q.ch)
}
