package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(g.metrics.middleware)

	// Public, no auth required.
	r.Get("/health", g.handleHealth())
	r.Handle("/metrics", g.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if g.config.Auth.IsConfigured() {
			r.Use(authMiddleware(g.config.Auth, g.audit, g.limiter))
		}
		r.Use(g.sessionMiddleware)

		r.Get("/tools", g.handleTools())
		r.Post("/tools/{name}", g.handleCall())

		r.Get("/approval", g.handleApprovalQuery())
		r.Post("/sessions/approval", g.handleApprovalBody())
		r.Post("/incognito", g.handleIncognito())

		r.Delete("/messages/{id}", g.handleDeleteMessage())
		r.Get("/delmsg/{id}", g.handleDeleteMessage())

		r.Get("/session", g.handleSession())
	})

	return r
}
