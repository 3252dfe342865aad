package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// Requests act as the X-User-ID header or userId query parameter, else defaultUser.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(d Deps, authEnabled bool, token, defaultUser string, sseHandler http.Handler) chi.Router {
	h := NewHandler(d)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(UserMiddleware(defaultUser))

		r.Get("/blocks", h.ListBlocks)
		r.Post("/blocks", h.CreateBlock)
		r.Get("/blocks/{id}", h.GetBlock)
		r.Patch("/blocks/{id}", h.UpdateBlock)
		r.Delete("/blocks/{id}", h.DeleteBlock)
		r.Get("/blocks/{id}/children", h.Children)
		r.Get("/stats", h.Stats)

		if h.search != nil {
			r.Get("/search", h.Search)
			r.Get("/blocks/{id}/similar", h.Similar)
		}

		if h.fill != nil {
			r.Post("/fill", h.Fill)
			r.Post("/fill/analyze", h.Analyze)
			r.Get("/fill/suggestions", h.Suggestions)
		}

		if h.chat != nil {
			r.Post("/chat", h.Chat)
			r.Get("/chat/{id}", h.History)
			r.Delete("/chat/{id}", h.ClearChat)
			r.Put("/chat/{id}/system", h.SetSystemMessage)
		}

		if h.templates != nil {
			r.Get("/templates", h.ListTemplates)
			r.Post("/templates", h.CreateTemplate)
			r.Get("/templates/{id}", h.GetTemplate)
			r.Put("/templates/{id}", h.UpdateTemplate)
			r.Delete("/templates/{id}", h.DeleteTemplate)
			r.Post("/templates/{id}/instantiate", h.InstantiateTemplate)
		}
	})

	return r
}
