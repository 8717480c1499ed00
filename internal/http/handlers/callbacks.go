package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"podforge/internal/domain"
	"podforge/internal/provider"
)

// GenerationCallback receives the provider's webhook. Unknown request ids
// are acknowledged with 200 so the provider stops redelivering them; an
// exhausted reconciliation retry returns 500 so the provider redelivers and
// the merge is retried.
func (a *App) GenerationCallback(w http.ResponseWriter, r *http.Request) {
	var cb provider.Callback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid callback payload")
		return
	}

	err := a.Reconciler.HandleCallback(r.Context(), cb)
	switch {
	case err == nil:
		a.json(w, http.StatusOK, map[string]string{"status": "accepted"})
	case errors.Is(err, domain.ErrUnmatchedCallback):
		a.json(w, http.StatusOK, map[string]string{"status": "ignored"})
	case errors.Is(err, domain.ErrConflictExhausted):
		a.Logger.Error().Err(err).Str("request_id", cb.RequestID).Msg("callback reconciliation exhausted retries")
		a.error(w, http.StatusInternalServerError, "conflict_exhausted", "reconciliation retries exhausted, please redeliver")
	default:
		a.Logger.Error().Err(err).Str("request_id", cb.RequestID).Msg("callback reconciliation failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to process callback")
	}
}
