package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router wires every endpoint onto a chi mux.
func Router(h *Handler, metricsEnabled bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)
	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/resources/{id}", h.GetResource)
		r.Get("/assets/{id}", h.GetAsset)
		r.Post("/receipts", h.IssueReceipt)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/request", h.RequestJob)
			r.Post("/start", h.StartJob)
			r.Get("/{requestId}/status", h.JobStatus)
			r.Get("/{requestId}/result", h.JobResult)
			r.Get("/{requestId}/stream", h.StreamJob)
		})
	})

	return r
}

// NewServer builds the http.Server around the router.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
