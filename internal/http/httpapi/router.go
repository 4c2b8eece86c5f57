// Package httpapi assembles the router: middleware chain first, then the
// public routes.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"server/internal/http/handlers"
	"server/internal/infra"
	"server/internal/middleware"
)

// NewRouter wires middleware and routes around the handler set.
func NewRouter(cfg *infra.Config, logger zerolog.Logger, app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.Get("/health", app.Health)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", app.Health)
		api.Get("/models", app.ListModels)

		api.Route("/veo", func(v chi.Router) {
			v.Use(middleware.RateLimit(cfg.RateLimitPerMin))
			v.Post("/", app.GenerateVideo)
			v.Get("/download", app.DownloadVideo)
		})
	})

	return r
}
