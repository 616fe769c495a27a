package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/identity/pkg/health"
	"github.com/utafrali/identity/pkg/middleware"
)

// NewRouter assembles the full HTTP surface: identity routes, health probes,
// and the metrics endpoint.
func NewRouter(h *Handler, healthHandler *health.Handler, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("identity-service"))
	r.Use(chimiddleware.RealIP)

	r.Get("/healthz", healthHandler.LivenessHandler())
	r.Get("/readyz", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		// Unauthenticated entry points.
		r.Post("/users", h.CreateUser)
		r.Post("/auth/login", h.Login)
		r.Post("/auth/anonymous", h.CreateAnonymousUser)
		r.Post("/auth/social/{provider}", h.SocialLogin)

		// Session-authenticated routes.
		r.Group(func(r chi.Router) {
			r.Use(h.SessionAuth)

			r.Get("/users/{id}", h.GetUser)
			r.Put("/users/{id}", h.UpdateUser)
			r.Delete("/users/{id}", h.DeleteUser)
			r.Post("/users/{id}/connections", h.LinkConnection)

			r.Group(func(r chi.Router) {
				r.Use(h.RequireAdmin)
				r.Post("/admin/sessions/sweep", h.SweepSessions)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, response{
			Error: &errorResponse{Code: "NOT_FOUND", Message: "route not found"},
		})
	})

	return r
}
