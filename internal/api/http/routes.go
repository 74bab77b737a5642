package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new HTTP router with configured routes, middleware, and handlers.
// It sets up upload and group routes, lifecycle hooks, health check, and Prometheus metrics endpoint.
func NewRouter(uploadService UploadServiceI, lc LifecycleHandler, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	h := NewUploadHandler(uploadService, lc, logger)

	r.Route("/uploads", func(r chi.Router) {
		r.Post("/", h.Enqueue)
		r.Post("/retry-failed", h.RetryAllFailed)
		r.Post("/cancel-all", h.CancelAll)
		r.Delete("/completed", h.ClearCompleted)
		r.Get("/{segmentID}", h.GetUpload)
		r.Delete("/{segmentID}", h.CancelUpload)
		r.Post("/{segmentID}/retry", h.RetryUpload)
	})

	r.Route("/groups/{groupID}", func(r chi.Router) {
		r.Get("/uploads", h.ListGroup)
		r.Post("/cancel", h.CancelGroup)
		r.Delete("/", h.ClearGroup)
	})

	r.Get("/progress", h.Progress)
	r.Post("/lifecycle/{event}", h.Lifecycle)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
