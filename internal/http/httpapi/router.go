package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/infra"
	"server/internal/middleware"
)

// Options carries the cross-cutting pieces the router wires around handlers.
type Options struct {
	Logger         infra.Logger
	AllowedOrigins []string
	DefaultLocale  string
	NormalizeLang  func(string) string
	CountryLookup  middleware.CountryLookup
	RateLimit      int
	RatePer        time.Duration
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
		middleware.Locale(opts.DefaultLocale, opts.NormalizeLang, opts.CountryLookup),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/videos/{id}", func(r chi.Router) {
		r.Get("/status", app.VideoStatus)
		r.Get("/events", app.VideoEvents)
		r.Post("/enrich", app.VideoEnrich)
		r.Post("/enrich/cancel", app.VideoEnrichCancel)
		if opts.RateLimit > 0 {
			r.With(middleware.RateLimit(opts.RateLimit, opts.RatePer)).Post("/variants", app.VideoVariants)
		} else {
			r.Post("/variants", app.VideoVariants)
		}
	})

	return r
}
