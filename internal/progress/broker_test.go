package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skuworks/catalog-importer/internal/catalog"
)

func snap(jobID string, processed int, status catalog.JobStatus) catalog.Snapshot {
	return catalog.Snapshot{
		JobID:         jobID,
		Status:        status,
		TotalRows:     100,
		ProcessedRows: processed,
		Progress:      processed,
		Timestamp:     time.Now().UTC(),
	}
}

// TestBrokerFanOut verifies every subscriber observes published snapshots.
func TestBrokerFanOut(t *testing.T) {
	t.Parallel()

	b := NewBroker(Config{})
	ch1, cancel1 := b.Subscribe("job-1")
	ch2, cancel2 := b.Subscribe("job-1")
	defer cancel1()
	defer cancel2()

	b.Publish(snap("job-1", 10, catalog.JobStatusProcessing))

	require.Equal(t, 10, (<-ch1).ProcessedRows)
	require.Equal(t, 10, (<-ch2).ProcessedRows)
}

// TestBrokerDropsOldestWhenSaturated ensures a slow subscriber loses
// intermediate snapshots but still sees the latest ones, in order.
func TestBrokerDropsOldestWhenSaturated(t *testing.T) {
	t.Parallel()

	b := NewBroker(Config{SubscriberBuffer: 2})
	ch, cancel := b.Subscribe("job-1")
	defer cancel()

	for i := 1; i <= 10; i++ {
		b.Publish(snap("job-1", i*10, catalog.JobStatusProcessing))
	}
	b.Publish(snap("job-1", 100, catalog.JobStatusCompleted))

	prev := -1
	var last catalog.Snapshot
	for s := range ch {
		require.GreaterOrEqual(t, s.ProcessedRows, prev, "processed_rows must be non-decreasing")
		prev = s.ProcessedRows
		last = s
	}
	require.Equal(t, catalog.JobStatusCompleted, last.Status, "terminal snapshot must arrive")
}

// TestBrokerTerminalClosesSubscriptions checks subscriptions end after the
// terminal snapshot and late subscribers get exactly the final state.
func TestBrokerTerminalClosesSubscriptions(t *testing.T) {
	t.Parallel()

	b := NewBroker(Config{})
	ch, cancel := b.Subscribe("job-1")
	defer cancel()

	b.Publish(snap("job-1", 50, catalog.JobStatusProcessing))
	b.Publish(snap("job-1", 100, catalog.JobStatusCompleted))

	var got []catalog.Snapshot
	for s := range ch {
		got = append(got, s)
	}
	require.Len(t, got, 2)
	require.Equal(t, catalog.JobStatusCompleted, got[1].Status)

	late, cancelLate := b.Subscribe("job-1")
	defer cancelLate()
	final, ok := <-late
	require.True(t, ok)
	require.Equal(t, catalog.JobStatusCompleted, final.Status)
	_, open := <-late
	require.False(t, open, "late subscription must close after terminal snapshot")
}

// TestBrokerCancelReleasesSubscriber verifies a disconnecting subscriber does
// not affect the publisher or its peers.
func TestBrokerCancelReleasesSubscriber(t *testing.T) {
	t.Parallel()

	b := NewBroker(Config{})
	_, cancel1 := b.Subscribe("job-1")
	ch2, cancel2 := b.Subscribe("job-1")
	defer cancel2()

	require.Equal(t, 2, b.SubscriberCount("job-1"))
	cancel1()
	require.Equal(t, 1, b.SubscriberCount("job-1"))

	b.Publish(snap("job-1", 30, catalog.JobStatusProcessing))
	require.Equal(t, 30, (<-ch2).ProcessedRows)

	// Cancel twice is harmless.
	cancel1()
}

// TestBrokerSnapshotFallback verifies the poll path always reflects the last
// published state.
func TestBrokerSnapshotFallback(t *testing.T) {
	t.Parallel()

	b := NewBroker(Config{})
	_, ok := b.Snapshot("job-1")
	require.False(t, ok)

	b.Publish(snap("job-1", 40, catalog.JobStatusProcessing))
	got, ok := b.Snapshot("job-1")
	require.True(t, ok)
	require.Equal(t, 40, got.ProcessedRows)

	b.Publish(snap("job-1", 100, catalog.JobStatusFailed))
	got, ok = b.Snapshot("job-1")
	require.True(t, ok)
	require.Equal(t, catalog.JobStatusFailed, got.Status)
}
