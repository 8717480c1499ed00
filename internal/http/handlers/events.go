package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"podforge/internal/progress"
)

const keepAliveInterval = 15 * time.Second

// Events streams progress notifications for one parent entity over SSE. The
// channel is non-durable: events published before the subscriber attached
// are not replayed, so clients re-fetch job state on (re)connect.
func (a *App) Events(w http.ResponseWriter, r *http.Request) {
	parentID := chi.URLParam(r, "parent_id")
	if parentID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "parent_id required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	sub := a.Broker.Subscribe(parentID)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			writeSSE(w, progress.Event{Type: progress.EventKeepAlive, ConnectionID: sub.ID})
			flusher.Flush()
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev progress.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("event: " + string(ev.Type) + "\n"))
	_, _ = w.Write([]byte("data: " + string(data) + "\n\n"))
}
