/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the dashboard

ROUTE GROUPS:
  /api/jobs/{jobID}/payments/*   Payment operations (actor required)
  /healthz                       Liveness and store check
  /metrics                       Prometheus scrape endpoint

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/securyflex/payment-engine/telemetry"
)

// RouterOptions tunes NewRouter.
type RouterOptions struct {
	// AllowedOrigins for CORS. Empty allows none. A "*" entry turns off
	// credentialed requests.
	AllowedOrigins []string
}

func allowsAnyOrigin(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID", "X-Actor-Role"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: !allowsAnyOrigin(opts.AllowedOrigins),
	}))

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", telemetry.Handler())

	// API routes
	r.Route("/api/jobs/{jobID}/payments", func(r chi.Router) {
		r.Use(RequireActor)

		r.Post("/batch", h.ProcessBatch)
		r.Post("/eligibility", h.CheckEligibility)
		r.Get("/status", h.GetPaymentStatus)
	})

	return r
}
