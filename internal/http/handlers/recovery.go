package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"podforge/internal/domain"
)

// RecoverJob pulls the provider's current status for a job whose callbacks
// may have been lost and applies any available results.
func (a *App) RecoverJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}

	outcome, err := a.Recoverer.Recover(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("recovery failed")
		a.error(w, http.StatusInternalServerError, "internal", "recovery failed")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"job_id": jobID, "outcome": outcome})
}

// ListStuckJobs returns generating jobs with no recent updates, the
// candidates for an on-demand recovery trigger.
func (a *App) ListStuckJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.Recoverer.ListStuck(r.Context(), a.Cfg.StuckJobAge)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to list stuck jobs")
		return
	}
	items := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, map[string]any{
			"id":         job.ID,
			"kind":       job.Kind,
			"parent_id":  job.ParentID,
			"submitted":  len(job.ExternalRequestIDs),
			"completed":  job.CompletedChunks(),
			"total":      len(job.Chunks),
			"updated_at": job.UpdatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}
