// Package importer drives CSV import jobs from upload to a terminal state.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/skuworks/catalog-importer/internal/catalog"
	"github.com/skuworks/catalog-importer/internal/metrics"
	"github.com/skuworks/catalog-importer/internal/progress"
)

// Config controls Controller behavior.
type Config struct {
	// ChunkSize is the number of CSV rows handed to the upserter at once.
	ChunkSize int
	// MaxRowErrors bounds the per-job row error list; failures beyond it are
	// still counted but not itemized.
	MaxRowErrors int
}

// Controller owns an ImportJob's lifecycle. It reads the uploaded CSV in
// chunks, drives the validator and upserter, advances job state, publishes
// progress snapshots, and raises the terminal lifecycle event. A single job
// is strictly sequential internally so processed_rows stays monotonic.
type Controller struct {
	jobs     catalog.JobStore
	upserter *Upserter
	broker   *progress.Broker
	events   catalog.EventSink
	clock    catalog.Clock
	cfg      Config
	logger   *zap.Logger
}

// NewController constructs a Controller.
func NewController(
	jobs catalog.JobStore,
	upserter *Upserter,
	broker *progress.Broker,
	events catalog.EventSink,
	clock catalog.Clock,
	cfg Config,
	logger *zap.Logger,
) *Controller {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 100
	}
	if cfg.MaxRowErrors <= 0 {
		cfg.MaxRowErrors = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		jobs:     jobs,
		upserter: upserter,
		broker:   broker,
		events:   events,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

type rawRow struct {
	number int
	fields map[string]string
}

// Run processes one job to completion. The job must already be registered as
// pending with TotalRows counted; Run transitions it to processing when the
// first chunk begins and to completed or failed when the stream ends. Row
// failures never abort the job; only an unreadable file or a canceled
// context does.
func (c *Controller) Run(ctx context.Context, job catalog.ImportJob, r io.Reader) catalog.ImportJob {
	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()

	job.Status = catalog.JobStatusProcessing
	c.commit(ctx, &job)
	c.logger.Info("import started",
		zap.String("job_id", job.ID),
		zap.String("filename", job.Filename),
		zap.Int("total_rows", job.TotalRows),
	)

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	columns, err := readHeader(reader)
	if err != nil {
		return c.finish(ctx, job, err)
	}
	if missing := missingColumns(columns); len(missing) > 0 {
		return c.finish(ctx, job, fmt.Errorf("missing required column(s): %s", strings.Join(missing, ", ")))
	}

	chunk := make([]rawRow, 0, c.cfg.ChunkSize)
	rowNumber := 1
	for {
		if err := ctx.Err(); err != nil {
			return c.finish(ctx, job, fmt.Errorf("import interrupted: %w", err))
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return c.finish(ctx, job, fmt.Errorf("read row: %w", err))
		}
		rowNumber++

		if blankRecord(record) {
			continue
		}
		chunk = append(chunk, rawRow{number: rowNumber, fields: rowFields(columns, record)})
		if len(chunk) == c.cfg.ChunkSize {
			c.processChunk(ctx, &job, chunk)
			chunk = chunk[:0]
		}
	}
	if len(chunk) > 0 {
		c.processChunk(ctx, &job, chunk)
	}

	return c.finish(ctx, job, nil)
}

// processChunk validates and upserts one chunk, then commits the counters.
// Every row in the chunk counts as processed whether it succeeded or not.
func (c *Controller) processChunk(ctx context.Context, job *catalog.ImportJob, rows []rawRow) {
	start := c.clock.Now()

	records := make([]catalog.NormalizedRecord, 0, len(rows))
	for _, row := range rows {
		rec, rowErr := catalog.ValidateRow(row.number, row.fields)
		if rowErr != nil {
			metrics.ObserveRow(string(catalog.RowFailed))
			c.recordRowError(job, *rowErr)
			continue
		}
		records = append(records, rec)
	}

	for _, outcome := range c.upserter.Apply(ctx, records) {
		if outcome.Status == catalog.RowFailed {
			c.recordRowError(job, catalog.RowError{RowNumber: outcome.RowNumber, Reason: outcome.Reason})
		}
	}

	job.ProcessedRows += len(rows)
	c.commit(ctx, job)
	metrics.ObserveChunk(c.clock.Now().Sub(start))
}

func (c *Controller) recordRowError(job *catalog.ImportJob, rowErr catalog.RowError) {
	job.FailedRows++
	if len(job.RowErrors) < c.cfg.MaxRowErrors {
		job.RowErrors = append(job.RowErrors, rowErr)
	}
}

// commit persists the job and pushes a snapshot to subscribers. A job store
// write failure is logged, not fatal: the in-memory snapshot path keeps
// serving progress and the next commit retries the write.
func (c *Controller) commit(ctx context.Context, job *catalog.ImportJob) {
	if err := c.jobs.UpdateJob(ctx, *job); err != nil {
		c.logger.Error("job update failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	c.broker.Publish(catalog.SnapshotOf(*job, c.clock.Now()))
}

func (c *Controller) finish(ctx context.Context, job catalog.ImportJob, fatal error) catalog.ImportJob {
	now := c.clock.Now()
	job.CompletedAt = &now

	if fatal != nil {
		job.Status = catalog.JobStatusFailed
		job.Error = fatal.Error()
		c.logger.Error("import failed",
			zap.String("job_id", job.ID),
			zap.Int("processed_rows", job.ProcessedRows),
			zap.Error(fatal),
		)
	} else {
		job.Status = catalog.JobStatusCompleted
		if job.FailedRows > 0 {
			job.Error = fmt.Sprintf("completed with %d row errors", job.FailedRows)
		}
		c.logger.Info("import completed",
			zap.String("job_id", job.ID),
			zap.Int("processed_rows", job.ProcessedRows),
			zap.Int("failed_rows", job.FailedRows),
		)
	}

	// The job context may already be canceled; the terminal commit and event
	// must still go out.
	finishCtx := context.WithoutCancel(ctx)
	c.commit(finishCtx, &job)
	metrics.ObserveJob(string(job.Status))
	c.emitTerminalEvent(finishCtx, job)
	return job
}

func (c *Controller) emitTerminalEvent(ctx context.Context, job catalog.ImportJob) {
	if c.events == nil {
		return
	}
	et := catalog.EventImportCompleted
	if job.Status == catalog.JobStatusFailed {
		et = catalog.EventImportFailed
	}
	data := map[string]any{
		"job_id":         job.ID,
		"filename":       job.Filename,
		"status":         string(job.Status),
		"total_rows":     job.TotalRows,
		"processed_rows": job.ProcessedRows,
		"failed_rows":    job.FailedRows,
		"progress":       job.Progress(),
	}
	if job.Error != "" {
		data["error"] = job.Error
	}
	c.events.Dispatch(ctx, et, data)
}

// CountRows scans the upload once and returns the number of data rows,
// applying the same blank-row rule as processing so total_rows matches what
// the controller will count.
func CountRows(r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	if _, err := readHeader(reader); err != nil {
		return 0, err
	}

	count := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return 0, fmt.Errorf("read row: %w", err)
		}
		if blankRecord(record) {
			continue
		}
		count++
	}
}

// readHeader returns normalized column names. An empty file yields an error;
// a header-only file is valid and produces zero data rows.
func readHeader(reader *csv.Reader) ([]string, error) {
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	columns := make([]string, len(header))
	for i, name := range header {
		name = strings.TrimPrefix(name, "\uFEFF")
		columns[i] = strings.ToLower(strings.TrimSpace(name))
	}
	return columns, nil
}

func missingColumns(columns []string) []string {
	present := make(map[string]bool, len(columns))
	for _, name := range columns {
		present[name] = true
	}
	var missing []string
	for _, name := range catalog.RequiredColumns() {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

// rowFields maps positional values onto header names. Short records leave
// trailing columns empty; values beyond the header are ignored.
func rowFields(columns []string, record []string) map[string]string {
	fields := make(map[string]string, len(columns))
	for i, name := range columns {
		if i < len(record) {
			fields[name] = record[i]
		} else {
			fields[name] = ""
		}
	}
	return fields
}

func blankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
