package routes

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/smartmarks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/smartmarks/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/smartmarks/internal/httpserver/mw"
)

func init() {
	Register(registerBookmarks)
	RegisterStream(registerBookmarkStream)
}

func registerBookmarks(r chi.Router, d deps.Deps) {
	api := r.With(mw.EnforceHost(d.AllowedHosts, d.Logger))
	api.Get("/api/bookmarks", handlers.ListBookmarks(d))

	writes := api.With(mw.RateLimit(mw.RateLimitConfig{
		Burst:             d.RateLimitBurst,
		RefillPerIPPerMin: d.RateLimitRate,
		MaxEntries:        10000,
		SweepInterval:     time.Minute,
		IdleTTL:           15 * time.Minute,
		TrustProxy:        d.TrustProxy,
	}))
	writes.Post("/api/bookmarks", handlers.CreateBookmark(d))
	writes.Patch("/api/bookmarks/{id}", handlers.UpdateBookmark(d))
	writes.Delete("/api/bookmarks/{id}", handlers.DeleteBookmark(d))
	writes.Post("/api/bookmarks/refresh", handlers.RefreshBookmarks(d))
	writes.Post("/api/bookmarks/import", handlers.ImportBookmarks(d))
}

func registerBookmarkStream(r chi.Router, d deps.Deps) {
	r.With(mw.EnforceHost(d.AllowedHosts, d.Logger)).Get("/api/bookmarks/stream", handlers.StreamBookmarks(d))
}
