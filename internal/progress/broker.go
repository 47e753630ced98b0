// Package progress fans out import job snapshots to concurrent subscribers.
package progress

import (
	"sync"

	"go.uber.org/zap"

	"github.com/skuworks/catalog-importer/internal/catalog"
)

const defaultSubscriberBuffer = 16

// Config controls per-subscriber buffering for the Broker.
type Config struct {
	// SubscriberBuffer is the bounded channel size per subscription
	// (default 16). When a subscriber's buffer is full the oldest update is
	// dropped so the writing job never stalls.
	SubscriberBuffer int
	// Logger is an optional structured logger used for warnings.
	Logger *zap.Logger
}

// Broker is a per-job broadcast channel with lossy slow-consumer semantics.
// Publishing never blocks the import job; a saturated subscriber loses its
// oldest buffered snapshot and is still guaranteed to observe the terminal
// one. It is safe for concurrent use by multiple goroutines.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]*topic
	buf    int
	logger *zap.Logger
}

type topic struct {
	latest   catalog.Snapshot
	hasState bool
	done     bool
	subs     map[*subscriber]struct{}
}

type subscriber struct {
	ch     chan catalog.Snapshot
	closed bool
}

// NewBroker initializes a Broker.
func NewBroker(cfg Config) *Broker {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		topics: make(map[string]*topic),
		buf:    cfg.SubscriberBuffer,
		logger: logger,
	}
}

// Publish records the latest snapshot for the job and forwards it to every
// subscriber without blocking. Once a terminal snapshot has been delivered
// the subscriptions are closed; the snapshot itself stays queryable.
func (b *Broker) Publish(snap catalog.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tp := b.topicLocked(snap.JobID)
	if tp.done {
		return
	}
	tp.latest = snap
	tp.hasState = true

	for sub := range tp.subs {
		sub.push(snap)
	}

	if snap.Status.Terminal() {
		tp.done = true
		for sub := range tp.subs {
			sub.closeLocked()
			delete(tp.subs, sub)
		}
	}
}

// Subscribe returns a live snapshot channel for the job plus a cancel
// function. The channel closes after the terminal snapshot has been sent.
// Subscribing to a job that already finished yields just the terminal
// snapshot; subscribing to an unknown job yields an open, empty channel that
// fills once the job starts publishing.
func (b *Broker) Subscribe(jobID string) (<-chan catalog.Snapshot, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tp := b.topicLocked(jobID)
	sub := &subscriber{ch: make(chan catalog.Snapshot, b.buf)}

	if tp.hasState {
		sub.push(tp.latest)
	}
	if tp.done {
		sub.closeLocked()
		return sub.ch, func() {}
	}

	tp.subs[sub] = struct{}{}
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := tp.subs[sub]; !ok {
			return
		}
		delete(tp.subs, sub)
		sub.closeLocked()
	}
	return sub.ch, cancel
}

// Snapshot returns the last published snapshot for the job, for pollers
// unable to hold a live subscription.
func (b *Broker) Snapshot(jobID string) (catalog.Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tp, ok := b.topics[jobID]
	if !ok || !tp.hasState {
		return catalog.Snapshot{}, false
	}
	return tp.latest, true
}

// SubscriberCount reports the live subscriptions for a job.
func (b *Broker) SubscriberCount(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tp, ok := b.topics[jobID]
	if !ok {
		return 0
	}
	return len(tp.subs)
}

func (b *Broker) topicLocked(jobID string) *topic {
	tp, ok := b.topics[jobID]
	if !ok {
		tp = &topic{subs: make(map[*subscriber]struct{})}
		b.topics[jobID] = tp
	}
	return tp
}

// push enqueues without blocking, evicting the oldest buffered snapshot when
// the channel is full (latest-state-wins).
func (s *subscriber) push(snap catalog.Snapshot) {
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- snap:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

func (s *subscriber) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
