package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mjarn/repoq/internal/ops"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *ops.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Repository registry.
	r.Get("/repos", h.ListRepos)
	r.Post("/repos", h.CreateRepo)
	r.Post("/repos/link", h.LinkRepos)
	r.Post("/repos/sync", h.SyncAll)
	r.Delete("/repos/{name}", h.DeleteRepo)
	r.Post("/repos/{name}/sync", h.SyncRepo)

	// Queries.
	r.Get("/search", h.Search)
	r.Post("/resolve", h.Resolve)
	r.Get("/packages/info", h.Info)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
