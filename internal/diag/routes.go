package diag

import (
	"net/http"

	"github.com/go-chi/chi"
)

func (h *Handler) SetRoutes(r *chi.Mux) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.HealthHandler)
		r.Get("/games", h.GamesHandler)
		r.Get("/games/{gameId}/activities", h.ActivitiesHandler)
	})
}

func routeParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}
