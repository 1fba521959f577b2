/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend
  5. httprate:   Per-IP limit on mutating routes (lock, unlock, imports)

ROUTE GROUPS:
  /api/periods/*        Period lifecycle and reports
  /api/contributors/*   Contributors and their reports
  /api/events/*         Calendar events
  /api/interventions    Flat-rate hours
  /api/rate-cards       Event types and rates
  /api/scenarios/*      Demo scenarios
  /healthz              Liveness and database ping

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

// RouterOptions tunes the middleware stack.
type RouterOptions struct {
	AllowedOrigins []string
	// RateLimit is the number of mutating requests per minute and client IP.
	// Zero disables limiting.
	RateLimit int
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	limited := func(next http.Handler) http.Handler { return next }
	if opts.RateLimit > 0 {
		limited = httprate.Limit(opts.RateLimit, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				writeError(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), nil)
			}),
		)
	}

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/periods", func(r chi.Router) {
			r.Get("/", h.ListPeriods)
			r.Get("/last-locked", h.LastLockedPeriod)
			r.Get("/{id}", h.GetPeriod)
			r.Get("/{id}/report", h.PeriodReport)
			r.Group(func(r chi.Router) {
				r.Use(limited)
				r.Post("/", h.CreatePeriod)
				r.Post("/{id}/lock", h.LockPeriod)
				r.Post("/{id}/unlock", h.UnlockPeriod)
			})
		})

		r.Route("/contributors", func(r chi.Router) {
			r.Get("/", h.ListContributors)
			r.Post("/", h.CreateContributor)
			r.Get("/{id}/reports", h.ContributorReports)
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/", h.ListEvents)
			r.Post("/", h.CreateEvent)
			r.Post("/{id}/validate", h.ValidateEvent)
		})

		r.Post("/interventions", h.CreateIntervention)

		r.Route("/rate-cards", func(r chi.Router) {
			r.Get("/", h.ListRateCards)
			r.With(limited).Post("/", h.ImportRateCard)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.With(limited).Post("/load", h.LoadScenario)
		})
	})

	return r
}

// Health reports liveness and database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unreachable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
