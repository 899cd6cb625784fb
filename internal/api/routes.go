package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes mounts the export endpoints on r. authenticate guards every route
// except the download link, which carries its own secret.
func (h *ExportHandler) Routes(r chi.Router, authenticate func(http.Handler) http.Handler) {
	r.Route("/api/exports", func(r chi.Router) {
		r.Get("/download", h.Download)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Post("/", h.Submit)
			r.Get("/eligibility", h.Eligibility)
			r.Get("/status", h.Status)
		})
	})
}
