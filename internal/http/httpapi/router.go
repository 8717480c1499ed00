package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"podforge/internal/http/handlers"
	"podforge/internal/middleware"
)

// NewRouter builds the API surface: job CRUD, the provider callback
// receiver, the recovery trigger, the SSE progress channel and local static
// artifact serving for development storage.
func NewRouter(app *handlers.App, staticDir string) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.Logger(app.Logger))
	if len(app.Cfg.CORSOrigins) > 0 {
		r.Use(middleware.CORS(app.Cfg.CORSOrigins))
	}

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Use(middleware.RateLimit(app.Cfg.RateLimitPerMin, time.Minute))
		r.Post("/", app.CreateJob)
		r.Get("/", app.ListJobs)
		r.Delete("/", app.DeleteJobs)
		r.Get("/stuck", app.ListStuckJobs)
		r.Get("/{job_id}", app.GetJob)
		r.Post("/{job_id}/recovery", app.RecoverJob)
	})

	// Provider webhooks and the SSE channel are deliberately outside the
	// rate limiter: callbacks burst when large jobs finish, and SSE holds
	// one long-lived request per subscriber.
	r.Post("/v1/callbacks/generation", app.GenerationCallback)
	r.Get("/v1/events/{parent_id}", app.Events)

	if staticDir != "" {
		fs := stdhttp.StripPrefix("/static/", stdhttp.FileServer(stdhttp.Dir(staticDir)))
		r.Handle("/static/*", fs)
	}

	return r
}
