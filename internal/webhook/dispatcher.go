// Package webhook delivers lifecycle event notifications to subscribed
// HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skuworks/catalog-importer/internal/catalog"
	"github.com/skuworks/catalog-importer/internal/metrics"
)

// Config controls Dispatcher behavior.
type Config struct {
	Workers int
	Timeout time.Duration
	// PerHostRPS caps queued deliveries per destination host; zero means
	// unlimited. Manual test deliveries bypass the cap.
	PerHostRPS   float64
	PerHostBurst int
}

// DeliveryResult is the outcome of one delivery attempt sequence.
type DeliveryResult struct {
	WebhookID  string        `json:"webhook_id"`
	URL        string        `json:"url"`
	EventType  string        `json:"event_type"`
	Success    bool          `json:"success"`
	StatusCode int           `json:"status_code,omitempty"`
	Error      string        `json:"error,omitempty"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"-"`
}

// Dispatcher fans out lifecycle events to matching webhooks. Event producers
// hand it events through Dispatch, which enqueues work without blocking;
// a worker pool started by Run drains the queue and performs the HTTP
// deliveries.
type Dispatcher struct {
	queue   catalog.DeliveryQueue
	store   catalog.WebhookStore
	policy  *ExponentialRetryPolicy
	clock   catalog.Clock
	client  *http.Client
	limiter *HostLimiter
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Dispatcher.
func New(
	queue catalog.DeliveryQueue,
	store catalog.WebhookStore,
	policy *ExponentialRetryPolicy,
	clock catalog.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		store:   store,
		policy:  policy,
		clock:   clock,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: NewHostLimiter(cfg.PerHostRPS, cfg.PerHostBurst),
		cfg:     cfg,
		logger:  logger,
	}
}

// Dispatch enqueues a delivery for every active webhook subscribed to the
// event type. It never blocks on delivery outcome; when the queue is full
// the delivery is dropped and logged.
func (d *Dispatcher) Dispatch(ctx context.Context, et catalog.EventType, data map[string]any) {
	hooks, err := d.store.ListActiveByEvent(ctx, et)
	if err != nil {
		d.logger.Error("webhook lookup failed", zap.String("event_type", string(et)), zap.Error(err))
		return
	}
	if len(hooks) == 0 {
		return
	}

	payload, err := d.buildPayload(et, data)
	if err != nil {
		d.logger.Error("payload encode failed", zap.String("event_type", string(et)), zap.Error(err))
		return
	}

	for _, wh := range hooks {
		delivery := catalog.WebhookDelivery{
			WebhookID: wh.ID,
			URL:       wh.URL,
			Headers:   cloneHeaders(wh.Headers),
			EventType: et,
			Payload:   payload,
		}
		if err := d.queue.TryEnqueue(delivery); err != nil {
			metrics.ObserveQueueDrop()
			d.logger.Warn("delivery dropped, queue full",
				zap.String("webhook_id", wh.ID),
				zap.String("event_type", string(et)),
			)
		}
	}
}

// Run starts the worker pool and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.workerLoop(ctx)
		}()
	}
	<-ctx.Done()
	wg.Wait()
}

func (d *Dispatcher) workerLoop(ctx context.Context) {
	for {
		delivery, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		result := d.process(ctx, delivery)
		d.logResult(result)
	}
}

// Test sends a synthetic payload for the webhook's configured event type to
// exactly that webhook, regardless of its is_active flag. A single attempt
// is made and the literal outcome is reported to the caller.
func (d *Dispatcher) Test(ctx context.Context, webhookID string) (DeliveryResult, error) {
	wh, err := d.store.GetWebhook(ctx, webhookID)
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("load webhook: %w", err)
	}

	payload, err := d.buildPayload(wh.EventType, map[string]any{
		"webhook_id": wh.ID,
		"test":       true,
	})
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("encode test payload: %w", err)
	}

	delivery := catalog.WebhookDelivery{
		WebhookID: wh.ID,
		URL:       wh.URL,
		Headers:   cloneHeaders(wh.Headers),
		EventType: wh.EventType,
		Payload:   payload,
	}

	start := d.clock.Now()
	status, sendErr := d.send(ctx, delivery)
	result := DeliveryResult{
		WebhookID:  wh.ID,
		URL:        wh.URL,
		EventType:  string(wh.EventType),
		StatusCode: status,
		Attempts:   1,
		Duration:   d.clock.Now().Sub(start),
	}
	if sendErr != nil {
		result.Error = sendErr.Error()
	} else {
		result.Success = true
	}
	metrics.ObserveDelivery(string(wh.EventType), testOutcome(result.Success), result.Duration)
	return result, nil
}

// process runs the retry loop for one queued delivery.
func (d *Dispatcher) process(ctx context.Context, delivery catalog.WebhookDelivery) DeliveryResult {
	result := DeliveryResult{
		WebhookID: delivery.WebhookID,
		URL:       delivery.URL,
		EventType: string(delivery.EventType),
	}

	start := d.clock.Now()
	for attempt := 1; ; attempt++ {
		result.Attempts = attempt
		if err := d.limiter.Wait(ctx, delivery.URL); err != nil {
			result.Error = err.Error()
			break
		}
		status, err := d.send(ctx, delivery)
		result.StatusCode = status
		if err == nil {
			result.Success = true
			break
		}
		result.Error = err.Error()
		if !d.policy.ShouldRetry(err, attempt) {
			break
		}
		if !d.wait(ctx, d.policy.Backoff(attempt)) {
			break
		}
	}
	result.Duration = d.clock.Now().Sub(start)

	outcome := "failed"
	if result.Success {
		outcome = "delivered"
	}
	metrics.ObserveDelivery(result.EventType, outcome, result.Duration)
	return result
}

// send performs one HTTP POST attempt with its own timeout.
func (d *Dispatcher) send(ctx context.Context, delivery catalog.WebhookDelivery) (int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, delivery.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range delivery.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post %s: %w", delivery.URL, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &StatusError{Code: resp.StatusCode}
	}
	return resp.StatusCode, nil
}

func (d *Dispatcher) buildPayload(et catalog.EventType, data map[string]any) ([]byte, error) {
	envelope := map[string]any{
		"event_type": string(et),
		"timestamp":  d.clock.Now().UTC().Format(time.RFC3339),
		"data":       data,
	}
	return json.Marshal(envelope)
}

func (d *Dispatcher) logResult(result DeliveryResult) {
	if result.Success {
		d.logger.Info("webhook delivered",
			zap.String("webhook_id", result.WebhookID),
			zap.String("event_type", result.EventType),
			zap.Int("status", result.StatusCode),
			zap.Int("attempts", result.Attempts),
		)
		return
	}
	d.logger.Warn("webhook delivery failed",
		zap.String("webhook_id", result.WebhookID),
		zap.String("event_type", result.EventType),
		zap.Int("status", result.StatusCode),
		zap.Int("attempts", result.Attempts),
		zap.String("error", result.Error),
	)
}

// wait sleeps for the backoff duration, returning false if the context
// finished first.
func (d *Dispatcher) wait(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func testOutcome(success bool) string {
	if success {
		return "delivered"
	}
	return "failed"
}

func cloneHeaders(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
