package handlers

import (
	"encoding/json"
	"net/http"

	"podforge/internal/infra"
	"podforge/internal/orchestrator"
	"podforge/internal/progress"
)

// App is the handler container with every dependency the HTTP surface needs.
type App struct {
	Cfg        *infra.Config
	Logger     infra.Logger
	Service    *orchestrator.Service
	Reconciler *orchestrator.Reconciler
	Recoverer  *orchestrator.Recoverer
	Broker     *progress.Broker
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]any{
		"error": map[string]string{"code": kind, "message": message},
	})
}
