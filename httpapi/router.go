package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Skryldev/image-editor/middleware"
)

// NewRouter builds the HTTP surface.
func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()
	r.Use(
		chimw.RealIP,
		middleware.RequestID,
		middleware.Logger(app.Log),
		chimw.Recoverer,
		middleware.CORS(app.Config.AllowedOrigins),
	)

	r.Get("/healthz", app.Health)
	r.Get("/ws", app.PushChannel)

	r.Route("/api", func(r chi.Router) {
		r.With(middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute)).Post("/upload", app.Upload)
		r.Get("/metrics", app.MetricsSnapshot)

		r.Route("/images", func(r chi.Router) {
			r.Get("/preview/{id}", app.Preview)
			r.Get("/original/{id}", app.Original)
			r.Post("/process", app.Process)
			r.Post("/reset", app.Reset)
			r.Post("/final", app.Final)
		})
	})
	return r
}
