// Package api serves the impact engine over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hurttlocker/impact/internal/engine"
)

// DefaultRequestTimeout bounds every request, LLM-backed suggestions included.
const DefaultRequestTimeout = 60 * time.Second

// Config configures NewRouter.
type Config struct {
	Engine         *engine.Engine
	Logger         zerolog.Logger
	Version        string
	RequestTimeout time.Duration // 0 = DefaultRequestTimeout
}

// NewRouter creates the API router with all routes configured.
func NewRouter(cfg Config) http.Handler {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	e := cfg.Engine
	if e == nil {
		e = &engine.Engine{}
	}
	h := &handler{engine: e, log: cfg.Logger, version: cfg.Version}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(timeout))

	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", h.search)
		r.Post("/suggest", h.suggest)
		r.Post("/aggregate", h.aggregate)

		r.Put("/facilities/{facilityID}", h.setFacility)

		r.Route("/products/{productID}/sites", func(r chi.Router) {
			r.Get("/", h.listSites)
			r.Put("/{facilityID}", h.setSite)
			r.Delete("/{facilityID}", h.removeSite)
		})

		r.Route("/prn/{orgID}/{year}", func(r chi.Router) {
			r.Get("/", h.obligations)
			r.Post("/build", h.buildObligations)
			r.Post("/purchases", h.recordPurchase)
		})
	})

	return r
}

// requestLogger logs one line per request through zerolog.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info().
					Str("request_id", chimiddleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("elapsed", time.Since(start)).
					Msg("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
