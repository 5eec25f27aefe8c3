package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/robert-malhotra/orbit-imager/internal/observability"
)

// NewRouter creates and configures the HTTP router with all routes and
// middleware. collector may be nil, in which case no metrics are recorded
// and /metrics is not served.
func NewRouter(h *Handlers, logger *slog.Logger, collector *observability.Collector) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestIDResponse)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(Recovery(logger))
	r.Use(collector.Middleware)
	r.Use(middleware.Compress(5, "application/json", "application/geo+json"))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Length"},
		ExposedHeaders:   []string{"Link", RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300, // 5 minutes
	}))

	r.Get("/health", h.Health)

	// STAC API
	r.Get("/", h.LandingPage)
	r.Get("/conformance", h.Conformance)
	r.Get("/collections", h.Collections)
	r.Get("/collections/{collectionId}", h.Collection)
	r.Get("/collections/{collectionId}/items", h.CollectionItems)
	r.Get("/collections/{collectionId}/items/{itemId}", h.CollectionItem)

	// Live scene
	r.Get("/status", h.Status)
	r.Get("/frame", h.Frame)
	r.Get("/stream", h.Stream)

	// Gestures
	r.Route("/input", func(r chi.Router) {
		r.Post("/pointer/{action}", h.Pointer)
		r.Post("/blur", h.Blur)
	})

	// Session history
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.Sessions)
		r.Get("/active", h.ActiveSession)
		r.Get("/{sessionId}", h.Session)
		r.Get("/{sessionId}/footprint", h.SessionFootprint)
	})

	if collector != nil {
		r.Method(http.MethodGet, "/metrics", collector.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, "endpoint not found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "method not allowed")
	})

	return r
}
