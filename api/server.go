/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend
  5. Throttle:   Per-IP rate limiting on write endpoints

ROUTE GROUPS:
  /api/companies/{companyID}/ledger/*       Monthly consolidation
  /api/companies/{companyID}/adjustments/*  Manual adjustments
  /api/companies/{companyID}/allocations    Allocation shares
  /api/companies/{companyID}/audit          Audit trail
  /api/healthz                              Liveness

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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
	// WriteRateLimit caps mutating requests per IP per minute.
	// Zero disables throttling.
	WriteRateLimit int
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/healthz", h.Healthz)

		r.Route("/companies/{companyID}", func(r chi.Router) {
			// Ledger routes
			r.Route("/ledger/{year}/{month}", func(r chi.Router) {
				r.Get("/", h.GetLedger)
				r.Get("/segmented", h.GetSegmented)
				r.Get("/versions", h.GetVersions)
				r.With(writeThrottle(opts)).Post("/recalculate", h.Recalculate)
			})

			// Adjustment routes
			r.Route("/adjustments", func(r chi.Router) {
				r.Get("/{year}/{month}", h.ListAdjustments)
				r.With(writeThrottle(opts)).Post("/", h.CreateAdjustment)
				r.With(writeThrottle(opts)).Delete("/{adjustmentID}", h.DeactivateAdjustment)
			})

			r.Get("/allocations", h.GetAllocations)
			r.Get("/audit", h.GetAudit)
		})
	})

	return r
}

// writeThrottle rate-limits mutating endpoints per client IP. Cascades
// are heavy; a runaway client must not monopolize the recalc locks.
func writeThrottle(opts RouterOptions) func(next http.Handler) http.Handler {
	if opts.WriteRateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.LimitByIP(opts.WriteRateLimit, time.Minute)
}
