/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:    Unique ID per request for tracing
  2. AccessLog:    zap request logging
  3. Recoverer:    Panic recovery (500 instead of crash)
  4. CORS:         Cross-origin requests for frontend
  -- /api only --
  5. Authenticate: Bearer JWT, 401 otherwise
  6. RateLimiter:  Per-principal token bucket, 429 when exhausted
  7. Idempotency:  Idempotency-Key replay on POST (when Redis is configured)

ROUTE GROUPS:
  /healthz          Liveness, unauthenticated
  /api/entries/*    Own entries and their workflow
  /api/review/*     Reviewer queue and decisions
  /api/leave/*      Leave types and bookings
  /api/summary/*    Period totals

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Middleware implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/clockd/auth"
	"go.uber.org/zap"
)

// RouterOptions carries the optional pieces of the middleware stack.
// Nil Limiter or Idempotency disables them.
type RouterOptions struct {
	Tokens      *auth.Tokens
	CORSOrigins []string
	Limiter     *RateLimiter
	Idempotency *Idempotency
	Logger      *zap.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = zap.L()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(AccessLog(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyHeader},
		ExposedHeaders:   []string{"Idempotent-Replayed"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate(opts.Tokens))
		r.Use(opts.Limiter.Middleware)
		r.Use(opts.Idempotency.Middleware)

		// Entry routes
		r.Route("/entries", func(r chi.Router) {
			r.Get("/", h.ListEntries)
			r.Post("/", h.CreateEntry)
			r.Post("/submit", h.SubmitEntries)
			r.Post("/resubmit", h.ResubmitEntries)
			r.Put("/{id}", h.UpdateEntry)
			r.Delete("/{id}", h.DeleteEntry)
			r.Post("/{id}/revise", h.ReviseEntry)
			r.Get("/{id}/history", h.EntryHistory)
		})

		// Review routes
		r.Route("/review", func(r chi.Router) {
			r.Get("/pending", h.PendingReview)
			r.Post("/", h.Review)
		})

		// Leave routes
		r.Route("/leave", func(r chi.Router) {
			r.Get("/types", h.ListLeaveTypes)
			r.Get("/bookings", h.LeaveOverview)
			r.Post("/bookings", h.BookLeave)
		})

		// Summary routes
		r.Route("/summary", func(r chi.Router) {
			r.Get("/", h.Summary)
			r.Get("/totals", h.Totals)
		})
	})

	return r
}
