package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pensieve-ai/pensieve/internal/api"
	"github.com/pensieve-ai/pensieve/internal/api/handlers"
	"github.com/pensieve-ai/pensieve/internal/api/middleware"
)

type RouterConfig struct {
	DefaultOwnerID string
	MaxUploadBytes int64

	IngestHandler *handlers.IngestHandler
	ItemHandler   *handlers.ItemHandler
	AskHandler    *handlers.AskHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	maxBodyBytes := cfg.MaxUploadBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = 25 * 1024 * 1024
	}
	// Multipart overhead on top of the raw file limit.
	maxBodyBytes += 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.Owner(cfg.DefaultOwnerID))
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/ingest", func(r chi.Router) {
		r.Post("/web", cfg.IngestHandler.Web)
		r.Post("/audio", cfg.IngestHandler.Audio)
		r.Post("/document", cfg.IngestHandler.Document)
		r.Post("/image", cfg.IngestHandler.Image)
	})

	r.Route("/items", func(r chi.Router) {
		r.Get("/", cfg.ItemHandler.List)
		r.Get("/{id}", cfg.ItemHandler.Get)
	})

	r.Post("/search", cfg.AskHandler.Search)
	r.Post("/ask", cfg.AskHandler.Ask)

	return r
}
