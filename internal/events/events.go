// Package events composes lifecycle event sinks.
package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/skuworks/catalog-importer/internal/catalog"
)

// Fanout forwards each event to every configured sink in order.
type Fanout struct {
	sinks []catalog.EventSink
}

// NewFanout builds a composite sink. Nil sinks are skipped.
func NewFanout(sinks ...catalog.EventSink) *Fanout {
	kept := make([]catalog.EventSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Fanout{sinks: kept}
}

// Dispatch forwards the event to every sink.
func (f *Fanout) Dispatch(ctx context.Context, et catalog.EventType, data map[string]any) {
	for _, s := range f.sinks {
		s.Dispatch(ctx, et, data)
	}
}

// PublisherSink mirrors lifecycle events to an external topic. Publishing
// happens on its own goroutine so event producers never block on broker
// acknowledgement.
type PublisherSink struct {
	publisher catalog.Publisher
	topic     string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewPublisherSink adapts a Publisher into an EventSink.
func NewPublisherSink(publisher catalog.Publisher, topic string, timeout time.Duration, logger *zap.Logger) *PublisherSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{
		publisher: publisher,
		topic:     topic,
		timeout:   timeout,
		logger:    logger,
	}
}

// Dispatch publishes the event envelope asynchronously. Failures are logged
// and dropped; the mirror is best-effort.
func (s *PublisherSink) Dispatch(ctx context.Context, et catalog.EventType, data map[string]any) {
	payload := map[string]any{
		"event_type": string(et),
		"data":       data,
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	go func() {
		defer cancel()
		if _, err := s.publisher.Publish(pubCtx, s.topic, payload); err != nil {
			s.logger.Warn("event mirror publish failed",
				zap.String("event_type", string(et)),
				zap.Error(err),
			)
		}
	}()
}
