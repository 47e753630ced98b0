package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/skuworks/catalog-importer/internal/catalog"
	"github.com/skuworks/catalog-importer/internal/importer"
)

const defaultJobListLimit = 50

// createImport handles POST /v1/imports. The multipart upload is validated
// and counted before the job is registered; processing runs on its own
// goroutine and the caller polls or streams progress.
func (s *Server) createImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes())

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer func() {
		_ = file.Close()
	}()

	filename := path.Base(header.Filename)
	if !strings.EqualFold(path.Ext(filename), ".csv") {
		writeError(w, http.StatusBadRequest, "only .csv files are accepted")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	totalRows, err := importer.CountRows(bytes.NewReader(data))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate job id")
		return
	}

	job := catalog.ImportJob{
		ID:        jobID,
		Filename:  filename,
		Status:    catalog.JobStatusPending,
		TotalRows: totalRows,
		CreatedAt: s.clock.Now(),
	}
	if err := s.jobs.CreateJob(r.Context(), job); err != nil {
		s.logger.Error("create job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to register import job")
		return
	}

	s.archiveUpload(r.Context(), jobID, data)

	// Processing outlives the upload request; there is no way to cancel a
	// running job, so the goroutine gets a fresh context.
	go s.controller.Run(context.Background(), job, bytes.NewReader(data))

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     jobID,
		"status":     string(job.Status),
		"total_rows": totalRows,
	})
}

// archiveUpload keeps a copy of the raw CSV in the blob store. The archive is
// best-effort; a storage failure is logged and the import proceeds.
func (s *Server) archiveUpload(ctx context.Context, jobID string, data []byte) {
	if s.blobs == nil {
		return
	}
	hash, err := s.hasher.Hash(data)
	if err != nil {
		s.logger.Warn("hash upload failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	blobPath := buildBlobPath(s.cfg.Storage.Prefix, jobID, hash)
	uri, err := s.blobs.PutObject(ctx, blobPath, "text/csv", data)
	if err != nil {
		s.logger.Warn("archive upload failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	s.logger.Info("upload archived", zap.String("job_id", jobID), zap.String("blob_uri", uri))
}

func buildBlobPath(prefix, jobID, hash string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.csv", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.csv", prefix, jobID, hash)
}

// listImports handles GET /v1/imports?limit=.
func (s *Server) listImports(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	jobs, err := s.jobs.ListJobs(r.Context(), limit)
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list import jobs")
		return
	}
	snapshots := make([]catalog.Snapshot, 0, len(jobs))
	for _, job := range jobs {
		snapshots = append(snapshots, catalog.SnapshotOf(job, s.clock.Now()))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": snapshots})
}

// getImport handles GET /v1/imports/{job_id}. The full job record including
// the bounded row error list is returned alongside the derived progress.
func (s *Server) getImport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "import job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load import job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job":      job,
		"progress": job.Progress(),
	})
}

// streamImportEvents handles GET /v1/imports/{job_id}/events as Server-Sent
// Events. The stream replays the latest known snapshot immediately and closes
// after the terminal snapshot is delivered.
func (s *Server) streamImportEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "import job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load import job")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// A job that finished before any broker state survived (say after a
	// restart) still gets its terminal snapshot from the store.
	if _, live := s.broker.Snapshot(jobID); !live && job.Status.Terminal() {
		snap := catalog.SnapshotOf(job, s.clock.Now())
		writeSSE(w, snap)
		writeSSEDone(w, snap.Status)
		flusher.Flush()
		return
	}

	updates, cancel := s.broker.Subscribe(jobID)
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, open := <-updates:
			if !open {
				return
			}
			writeSSE(w, snap)
			if snap.Status.Terminal() {
				writeSSEDone(w, snap.Status)
				flusher.Flush()
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, snap catalog.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		zap.L().Error("encode snapshot failed", zap.Error(err))
		return
	}
	fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
}

// writeSSEDone terminates the stream with a final frame so clients can stop
// listening without waiting for the connection to drop.
func writeSSEDone(w io.Writer, status catalog.JobStatus) {
	fmt.Fprintf(w, "event: done\ndata: {\"status\": %q}\n\n", string(status))
}
