package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"podforge/internal/domain"
	"podforge/internal/orchestrator"
)

type chunkSpecRequest struct {
	Text     string `json:"text,omitempty"`
	MediaURL string `json:"media_url,omitempty"`
	Label    string `json:"label,omitempty"`
}

type createJobRequest struct {
	Kind     string             `json:"kind"`
	ParentID string             `json:"parent_id,omitempty"`
	Chunks   []chunkSpecRequest `json:"chunks"`
}

// CreateJob accepts a new generation job with its full chunk spec list and
// queues it for the submission worker.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	specs := make([]orchestrator.ChunkSpec, 0, len(req.Chunks))
	for _, c := range req.Chunks {
		specs = append(specs, orchestrator.ChunkSpec{Text: c.Text, MediaURL: c.MediaURL, Label: c.Label})
	}

	job, err := a.Service.CreateJob(r.Context(), domain.JobKind(req.Kind), specs, req.ParentID)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	a.json(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
		"chunks": len(job.Chunks),
	})
}

// GetJob returns the full job record including its chunk list.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	job, err := a.Service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, jobBody(job))
}

// ListJobs returns jobs filtered by parent_id and/or status.
func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	parentID := r.URL.Query().Get("parent_id")
	status := domain.JobStatus(r.URL.Query().Get("status"))

	jobs, err := a.Service.ListJobs(r.Context(), parentID, status)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to list jobs")
		return
	}
	items := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, jobBody(job))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// DeleteJobs removes all jobs for a parent entity.
func (a *App) DeleteJobs(w http.ResponseWriter, r *http.Request) {
	parentID := r.URL.Query().Get("parent_id")
	if parentID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "parent_id required")
		return
	}
	deleted, err := a.Service.DeleteJobs(r.Context(), parentID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to delete jobs")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func jobBody(job *domain.GenerationJob) map[string]any {
	body := map[string]any{
		"id":                   job.ID,
		"kind":                 job.Kind,
		"parent_id":            job.ParentID,
		"status":               job.Status,
		"chunks":               job.Chunks,
		"external_request_ids": job.ExternalRequestIDs,
		"artifact_url":         job.ArtifactURL,
		"error":                job.Error,
		"created_at":           job.CreatedAt,
		"updated_at":           job.UpdatedAt,
	}
	if job.CompletedAt != nil {
		body["completed_at"] = job.CompletedAt
	}
	return body
}
