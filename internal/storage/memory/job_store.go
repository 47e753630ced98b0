package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/skuworks/catalog-importer/internal/catalog"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]catalog.ImportJob
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]catalog.ImportJob)}
}

// CreateJob stores a new job in pending status.
func (s *JobStore) CreateJob(_ context.Context, job catalog.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// UpdateJob replaces the stored counters and status for a job.
func (s *JobStore) UpdateJob(_ context.Context, job catalog.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return catalog.ErrNotFound
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (catalog.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return catalog.ImportJob{}, catalog.ErrNotFound
	}
	return cloneJob(job), nil
}

// ListJobs returns jobs most-recent-first, capped at limit.
func (s *JobStore) ListJobs(_ context.Context, limit int) ([]catalog.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.ImportJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneJob(job catalog.ImportJob) catalog.ImportJob {
	cp := job
	if job.RowErrors != nil {
		cp.RowErrors = append([]catalog.RowError(nil), job.RowErrors...)
	}
	return cp
}
