package importer

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skuworks/catalog-importer/internal/catalog"
	systemclock "github.com/skuworks/catalog-importer/internal/clock/system"
	"github.com/skuworks/catalog-importer/internal/metrics"
	"github.com/skuworks/catalog-importer/internal/progress"
	storemem "github.com/skuworks/catalog-importer/internal/storage/memory"
)

type sinkEvent struct {
	et   catalog.EventType
	data map[string]any
}

type recordingSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

func (s *recordingSink) Dispatch(_ context.Context, et catalog.EventType, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{et: et, data: data})
}

func (s *recordingSink) last(t *testing.T) sinkEvent {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.events)
	return s.events[len(s.events)-1]
}

type controllerFixture struct {
	controller *Controller
	products   *storemem.ProductStore
	jobs       *storemem.JobStore
	broker     *progress.Broker
	sink       *recordingSink
}

func newFixture(t *testing.T, chunkSize int) *controllerFixture {
	t.Helper()
	metrics.Init()

	products := storemem.NewProductStore()
	jobs := storemem.NewJobStore()
	broker := progress.NewBroker(progress.Config{SubscriberBuffer: 64})
	sink := &recordingSink{}
	clock := systemclock.New()

	controller := NewController(
		jobs,
		NewUpserter(products, clock, zap.NewNop()),
		broker,
		sink,
		clock,
		Config{ChunkSize: chunkSize, MaxRowErrors: 10},
		zap.NewNop(),
	)
	return &controllerFixture{
		controller: controller,
		products:   products,
		jobs:       jobs,
		broker:     broker,
		sink:       sink,
	}
}

func (f *controllerFixture) runCSV(t *testing.T, jobID, csvData string) catalog.ImportJob {
	t.Helper()
	total, err := CountRows(strings.NewReader(csvData))
	require.NoError(t, err)

	job := catalog.ImportJob{
		ID:        jobID,
		Filename:  "products.csv",
		Status:    catalog.JobStatusPending,
		TotalRows: total,
		CreatedAt: time.Now(),
	}
	require.NoError(t, f.jobs.CreateJob(context.Background(), job))
	return f.controller.Run(context.Background(), job, strings.NewReader(csvData))
}

func TestRunImportsFileWithRowErrors(t *testing.T) {
	t.Parallel()

	csvData := "sku,name,description,price\n" +
		"A-1,Widget,First,9.99\n" +
		"B-2,,Second,1.50\n" +
		"C-3,Gadget,Third,\n"

	f := newFixture(t, 2)
	job := f.runCSV(t, "job-1", csvData)

	require.Equal(t, catalog.JobStatusCompleted, job.Status)
	require.Equal(t, 3, job.TotalRows)
	require.Equal(t, 3, job.ProcessedRows)
	require.Equal(t, 1, job.FailedRows)
	require.Equal(t, 100, job.Progress())
	require.Equal(t, "completed with 1 row errors", job.Error)
	require.Len(t, job.RowErrors, 1)
	require.Equal(t, 3, job.RowErrors[0].RowNumber)
	require.Equal(t, "name is required", job.RowErrors[0].Reason)
	require.NotNil(t, job.CompletedAt)
	require.Equal(t, 2, f.products.Len())

	// Stored job matches the returned one.
	stored, err := f.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, catalog.JobStatusCompleted, stored.Status)
	require.Equal(t, 3, stored.ProcessedRows)

	event := f.sink.last(t)
	require.Equal(t, catalog.EventImportCompleted, event.et)
	require.Equal(t, "job-1", event.data["job_id"])
	require.Equal(t, 3, event.data["processed_rows"])
	require.Equal(t, 1, event.data["failed_rows"])
}

func TestRunIsIdempotentAcrossReimports(t *testing.T) {
	t.Parallel()

	csvData := "sku,name,description,price\n" +
		"A-1,Widget,First,9.99\n" +
		"B-2,Gadget,Second,1.50\n"

	f := newFixture(t, 10)
	first := f.runCSV(t, "job-1", csvData)
	second := f.runCSV(t, "job-2", csvData)

	require.Equal(t, catalog.JobStatusCompleted, first.Status)
	require.Equal(t, catalog.JobStatusCompleted, second.Status)
	require.Zero(t, second.FailedRows)
	require.Equal(t, 2, f.products.Len())

	p, err := f.products.GetBySKU(context.Background(), "A-1")
	require.NoError(t, err)
	require.Equal(t, "Widget", p.Name)
}

func TestRunHeaderOnlyFileCompletes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10)
	job := f.runCSV(t, "job-empty", "sku,name,description,price\n")

	require.Equal(t, catalog.JobStatusCompleted, job.Status)
	require.Zero(t, job.TotalRows)
	require.Zero(t, job.ProcessedRows)
	require.Zero(t, job.FailedRows)
	require.Equal(t, 100, job.Progress())
	require.Empty(t, job.Error)
	require.Equal(t, catalog.EventImportCompleted, f.sink.last(t).et)
}

func TestRunStripsHeaderByteOrderMark(t *testing.T) {
	t.Parallel()

	csvData := "\uFEFFsku,name,description\n" +
		"A-1,Widget,First\n"

	f := newFixture(t, 10)
	job := f.runCSV(t, "job-bom", csvData)

	require.Equal(t, catalog.JobStatusCompleted, job.Status)
	require.Equal(t, 1, job.ProcessedRows)
	require.Zero(t, job.FailedRows)
	require.Equal(t, 1, f.products.Len())
}

func TestRunTreatsCaseFoldedSKUsAsDuplicates(t *testing.T) {
	t.Parallel()

	csvData := "sku,name,description,price\n" +
		"A-1,Widget,desc,9.99\n" +
		"a-1,Widget2,desc2,19.99\n"

	f := newFixture(t, 10)
	job := f.runCSV(t, "job-dup", csvData)

	require.Equal(t, catalog.JobStatusCompleted, job.Status)
	require.Equal(t, 2, job.ProcessedRows)
	require.Equal(t, 1, job.FailedRows)
	require.Len(t, job.RowErrors, 1)
	require.Equal(t, 3, job.RowErrors[0].RowNumber)
	require.Contains(t, job.RowErrors[0].Reason, "duplicate SKU in this batch")
	require.Equal(t, 1, f.products.Len())

	p, err := f.products.GetBySKU(context.Background(), "A-1")
	require.NoError(t, err)
	require.Equal(t, "Widget", p.Name)
}

func TestRunFailsOnMissingRequiredColumn(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10)

	job := catalog.ImportJob{ID: "job-cols", Status: catalog.JobStatusPending, CreatedAt: time.Now()}
	require.NoError(t, f.jobs.CreateJob(context.Background(), job))

	result := f.controller.Run(context.Background(), job, strings.NewReader("sku,name\nA-1,Widget\n"))
	require.Equal(t, catalog.JobStatusFailed, result.Status)
	require.Contains(t, result.Error, "missing required column")
	require.Contains(t, result.Error, "description")
	require.Equal(t, catalog.EventImportFailed, f.sink.last(t).et)
}

func TestRunFailsOnUnreadableStream(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10)

	job := catalog.ImportJob{ID: "job-io", Status: catalog.JobStatusPending, TotalRows: 5, CreatedAt: time.Now()}
	require.NoError(t, f.jobs.CreateJob(context.Background(), job))

	stream := io.MultiReader(
		strings.NewReader("sku,name,description\nA-1,Widget,desc\n"),
		iotest.ErrReader(errors.New("disk read failed")),
	)
	result := f.controller.Run(context.Background(), job, stream)

	require.Equal(t, catalog.JobStatusFailed, result.Status)
	require.Contains(t, result.Error, "disk read failed")
	event := f.sink.last(t)
	require.Equal(t, catalog.EventImportFailed, event.et)
	require.Equal(t, "job-io", event.data["job_id"])
}

func TestRunPublishesMonotonicSnapshots(t *testing.T) {
	t.Parallel()

	csvData := "sku,name,description\n" +
		"A-1,Widget,a\n" +
		"B-2,Widget,b\n" +
		"C-3,Widget,c\n"

	f := newFixture(t, 1)

	updates, cancel := f.broker.Subscribe("job-mono")
	defer cancel()

	job := f.runCSV(t, "job-mono", csvData)
	require.Equal(t, catalog.JobStatusCompleted, job.Status)

	var snapshots []catalog.Snapshot
	for snap := range updates {
		snapshots = append(snapshots, snap)
	}
	require.NotEmpty(t, snapshots)

	prev := -1
	for _, snap := range snapshots {
		require.GreaterOrEqual(t, snap.ProcessedRows, prev)
		prev = snap.ProcessedRows
	}
	final := snapshots[len(snapshots)-1]
	require.Equal(t, catalog.JobStatusCompleted, final.Status)
	require.Equal(t, 3, final.ProcessedRows)
	require.Equal(t, 100, final.Progress)

	// The fallback read path still serves the terminal snapshot.
	snap, ok := f.broker.Snapshot("job-mono")
	require.True(t, ok)
	require.Equal(t, catalog.JobStatusCompleted, snap.Status)
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	csvData := "sku,name,description\nA-1,Widget,a\n"
	f := newFixture(t, 1)

	job := catalog.ImportJob{ID: "job-cancel", Status: catalog.JobStatusPending, TotalRows: 1, CreatedAt: time.Now()}
	require.NoError(t, f.jobs.CreateJob(context.Background(), job))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := f.controller.Run(ctx, job, strings.NewReader(csvData))
	require.Equal(t, catalog.JobStatusFailed, result.Status)
	require.Contains(t, result.Error, "import interrupted")
	require.Equal(t, catalog.EventImportFailed, f.sink.last(t).et)

	// The terminal state still reached the store despite cancellation.
	stored, err := f.jobs.GetJob(context.Background(), "job-cancel")
	require.NoError(t, err)
	require.Equal(t, catalog.JobStatusFailed, stored.Status)
}

func TestCountRowsSkipsBlankRecords(t *testing.T) {
	t.Parallel()

	csvData := "sku,name,description\n" +
		"A-1,Widget,a\n" +
		",,\n" +
		"B-2,Widget,b\n"
	count, err := CountRows(strings.NewReader(csvData))
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestCountRowsEmptyFile(t *testing.T) {
	t.Parallel()

	_, err := CountRows(strings.NewReader(""))
	require.Error(t, err)
}

func TestRowErrorListIsBounded(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("sku,name,description\n")
	for i := 0; i < 15; i++ {
		b.WriteString(",missing sku,desc\n")
	}

	f := newFixture(t, 4)
	job := f.runCSV(t, "job-bounded", b.String())

	require.Equal(t, catalog.JobStatusCompleted, job.Status)
	require.Equal(t, 15, job.FailedRows)
	require.Len(t, job.RowErrors, 10)
}
