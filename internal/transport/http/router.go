package transporthttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"example.com/pagepulse/internal/delivery"
	"example.com/pagepulse/internal/metrics"
)

func (d *ServerDeps) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(AccessLog(d.Log))
	// Trackers post cross-origin from the host page. Preflight has to be
	// answered at the top level, before route matching.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.Cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-API-Key"},
		MaxAge:         600,
	}))

	r.Get("/healthz", d.HandleHealthz)
	r.Get("/readyz", d.HandleReadyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(BodyLimit(d.Cfg.MaxBodyBytes))
			r.Use(AcceptContentTypes(delivery.ContentTypeJSON, "text/plain"))
			r.Post("/collect", d.HandleCollect)
		})

		r.Group(func(r chi.Router) {
			r.Use(APIKeyAuth(d.Cfg.APIKeys))
			if d.Cfg.RateLimitStatsPerMin > 0 {
				r.Use(httprate.LimitByIP(d.Cfg.RateLimitStatsPerMin, time.Minute))
			}
			r.Get("/stats", d.HandleGetStats)
		})
	})

	return r
}
