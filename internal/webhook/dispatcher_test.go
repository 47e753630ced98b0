package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skuworks/catalog-importer/internal/catalog"
	systemclock "github.com/skuworks/catalog-importer/internal/clock/system"
	"github.com/skuworks/catalog-importer/internal/metrics"
	queuemem "github.com/skuworks/catalog-importer/internal/queue/memory"
	storemem "github.com/skuworks/catalog-importer/internal/storage/memory"
)

func newTestDispatcher(t *testing.T, store catalog.WebhookStore, queueCap int) (*Dispatcher, *queuemem.Queue) {
	t.Helper()
	metrics.Init()
	queue := queuemem.NewQueue(queueCap)
	policy := NewExponentialRetryPolicy(3, time.Millisecond, 5*time.Millisecond)
	d := New(queue, store, policy, systemclock.New(), Config{Workers: 1, Timeout: 2 * time.Second}, zap.NewNop())
	return d, queue
}

func runDispatcher(t *testing.T, d *Dispatcher) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("dispatcher did not stop after context cancel")
		}
	})
	return cancel
}

func mustCreateWebhook(t *testing.T, store catalog.WebhookStore, wh catalog.Webhook) {
	t.Helper()
	require.NoError(t, store.CreateWebhook(context.Background(), wh))
}

func TestDispatchDeliversEnvelopeWithHeaders(t *testing.T) {
	t.Parallel()

	received := make(chan *http.Request, 1)
	var body atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body.Store(data)
		received <- r.Clone(context.Background())
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := storemem.NewWebhookStore()
	mustCreateWebhook(t, store, catalog.Webhook{
		ID:        "wh-1",
		URL:       server.URL,
		EventType: catalog.EventProductCreated,
		IsActive:  true,
		Headers:   map[string]string{"X-Signature": "s3cret"},
	})

	d, _ := newTestDispatcher(t, store, 8)
	runDispatcher(t, d)

	d.Dispatch(context.Background(), catalog.EventProductCreated, map[string]any{"sku": "A-1"})

	select {
	case r := <-received:
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "s3cret", r.Header.Get("X-Signature"))
	case <-time.After(2 * time.Second):
		t.Fatal("webhook endpoint was never called")
	}

	var envelope struct {
		EventType string         `json:"event_type"`
		Timestamp string         `json:"timestamp"`
		Data      map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body.Load().([]byte), &envelope))
	require.Equal(t, "product.created", envelope.EventType)
	require.Equal(t, "A-1", envelope.Data["sku"])
	_, err := time.Parse(time.RFC3339, envelope.Timestamp)
	require.NoError(t, err)
}

func TestDispatchRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	succeeded := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		close(succeeded)
	}))
	defer server.Close()

	store := storemem.NewWebhookStore()
	mustCreateWebhook(t, store, catalog.Webhook{
		ID:        "wh-retry",
		URL:       server.URL,
		EventType: catalog.EventImportCompleted,
		IsActive:  true,
	})

	d, _ := newTestDispatcher(t, store, 8)
	runDispatcher(t, d)

	d.Dispatch(context.Background(), catalog.EventImportCompleted, map[string]any{"job_id": "j1"})

	select {
	case <-succeeded:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery was not retried to success")
	}
	require.Equal(t, int32(3), calls.Load())
}

func TestDispatchDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	rejected := make(chan struct{}, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		rejected <- struct{}{}
	}))
	defer server.Close()

	store := storemem.NewWebhookStore()
	mustCreateWebhook(t, store, catalog.Webhook{
		ID:        "wh-4xx",
		URL:       server.URL,
		EventType: catalog.EventImportFailed,
		IsActive:  true,
	})

	d, _ := newTestDispatcher(t, store, 8)
	runDispatcher(t, d)

	d.Dispatch(context.Background(), catalog.EventImportFailed, map[string]any{"job_id": "j2"})

	select {
	case <-rejected:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook endpoint was never called")
	}
	// Give a would-be retry time to fire before asserting it did not.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), calls.Load())
}

func TestDispatchSkipsInactiveWebhooks(t *testing.T) {
	t.Parallel()

	store := storemem.NewWebhookStore()
	mustCreateWebhook(t, store, catalog.Webhook{
		ID:        "wh-off",
		URL:       "http://127.0.0.1:1/hook",
		EventType: catalog.EventProductDeleted,
		IsActive:  false,
	})

	d, queue := newTestDispatcher(t, store, 8)

	d.Dispatch(context.Background(), catalog.EventProductDeleted, map[string]any{"sku": "A-1"})
	require.Equal(t, 0, queue.Len())
}

func TestDispatchDropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	store := storemem.NewWebhookStore()
	for _, id := range []string{"wh-a", "wh-b"} {
		mustCreateWebhook(t, store, catalog.Webhook{
			ID:        id,
			URL:       "http://127.0.0.1:1/hook",
			EventType: catalog.EventProductUpdated,
			IsActive:  true,
		})
	}

	// No workers running: the single-slot queue overflows on the second hook.
	d, queue := newTestDispatcher(t, store, 1)

	d.Dispatch(context.Background(), catalog.EventProductUpdated, map[string]any{"sku": "A-1"})
	require.Equal(t, 1, queue.Len())
}

func TestTestDeliveryReachesInactiveWebhook(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		data, _ := io.ReadAll(r.Body)
		var envelope struct {
			Data map[string]any `json:"data"`
		}
		require.NoError(t, json.Unmarshal(data, &envelope))
		require.Equal(t, true, envelope.Data["test"])
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := storemem.NewWebhookStore()
	mustCreateWebhook(t, store, catalog.Webhook{
		ID:        "wh-test",
		URL:       server.URL,
		EventType: catalog.EventImportCompleted,
		IsActive:  false,
	})

	d, _ := newTestDispatcher(t, store, 8)

	result, err := d.Test(context.Background(), "wh-test")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.Equal(t, 1, result.Attempts)
	require.Equal(t, int32(1), calls.Load())
}

func TestTestDeliveryUnreachableURLSingleAttempt(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	store := storemem.NewWebhookStore()
	mustCreateWebhook(t, store, catalog.Webhook{
		ID:        "wh-dead",
		URL:       url,
		EventType: catalog.EventImportFailed,
		IsActive:  true,
	})

	d, _ := newTestDispatcher(t, store, 8)

	result, err := d.Test(context.Background(), "wh-dead")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.NotEmpty(t, result.Error)
	require.Equal(t, 1, result.Attempts)
}

func TestTestDeliveryUnknownWebhook(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t, storemem.NewWebhookStore(), 8)

	_, err := d.Test(context.Background(), "missing")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestTestDeliveryFailureReportsStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := storemem.NewWebhookStore()
	mustCreateWebhook(t, store, catalog.Webhook{
		ID:        "wh-500",
		URL:       server.URL,
		EventType: catalog.EventImportCompleted,
		IsActive:  true,
	})

	d, _ := newTestDispatcher(t, store, 8)

	result, err := d.Test(context.Background(), "wh-500")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, http.StatusInternalServerError, result.StatusCode)
	require.Equal(t, 1, result.Attempts)
	require.Equal(t, int32(1), calls.Load())
}
