package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/skuworks/catalog-importer/internal/catalog"
)

// JobStore persists import jobs in Postgres. Row errors are stored as a
// JSONB document alongside the counters.
type JobStore struct {
	db DB
}

// NewJobStore constructs a JobStore over an existing pool.
func NewJobStore(db DB) *JobStore {
	return &JobStore{db: db}
}

// CreateJob registers a new import job.
func (s *JobStore) CreateJob(ctx context.Context, job catalog.ImportJob) error {
	rowErrors, err := marshalRowErrors(job.RowErrors)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO import_jobs
			(id, filename, status, total_rows, processed_rows, failed_rows, error_message, row_errors, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.Exec(ctx, query,
		job.ID,
		job.Filename,
		string(job.Status),
		job.TotalRows,
		job.ProcessedRows,
		job.FailedRows,
		job.Error,
		rowErrors,
		job.CreatedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJob replaces the stored counters and status for a job.
func (s *JobStore) UpdateJob(ctx context.Context, job catalog.ImportJob) error {
	rowErrors, err := marshalRowErrors(job.RowErrors)
	if err != nil {
		return err
	}
	query := `
		UPDATE import_jobs
		SET status = $2, total_rows = $3, processed_rows = $4, failed_rows = $5,
			error_message = $6, row_errors = $7, completed_at = $8
		WHERE id = $1
	`
	tag, err := s.db.Exec(ctx, query,
		job.ID,
		string(job.Status),
		job.TotalRows,
		job.ProcessedRows,
		job.FailedRows,
		job.Error,
		rowErrors,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (catalog.ImportJob, error) {
	query := `
		SELECT id, filename, status, total_rows, processed_rows, failed_rows,
			error_message, row_errors, created_at, completed_at
		FROM import_jobs
		WHERE id = $1
	`
	job, err := scanJob(s.db.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.ImportJob{}, catalog.ErrNotFound
		}
		return catalog.ImportJob{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs most-recent-first, capped at limit.
func (s *JobStore) ListJobs(ctx context.Context, limit int) ([]catalog.ImportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, filename, status, total_rows, processed_rows, failed_rows,
			error_message, row_errors, created_at, completed_at
		FROM import_jobs
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []catalog.ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (catalog.ImportJob, error) {
	var (
		job       catalog.ImportJob
		status    string
		rowErrors []byte
	)
	err := row.Scan(
		&job.ID,
		&job.Filename,
		&status,
		&job.TotalRows,
		&job.ProcessedRows,
		&job.FailedRows,
		&job.Error,
		&rowErrors,
		&job.CreatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return catalog.ImportJob{}, err
	}
	job.Status = catalog.JobStatus(status)
	if len(rowErrors) > 0 {
		if err := json.Unmarshal(rowErrors, &job.RowErrors); err != nil {
			return catalog.ImportJob{}, fmt.Errorf("decode row errors: %w", err)
		}
	}
	return job, nil
}

func marshalRowErrors(rowErrors []catalog.RowError) ([]byte, error) {
	if len(rowErrors) == 0 {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(rowErrors)
	if err != nil {
		return nil, fmt.Errorf("encode row errors: %w", err)
	}
	return data, nil
}
