package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/carta/internal/cardservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *cardservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Scan and card lookup.
	r.Get("/files", h.ListFiles)
	r.Get("/cards/*", h.GetCard)

	// Writes.
	r.Post("/patches", h.ApplyPatch)
	r.Post("/readlog", h.AppendReadLog)

	// Index queries.
	r.Get("/search", h.Search)
	r.Get("/blocks", h.FindBlocks)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
